// Package extract turns noisy OCR output of Taiwan ID cards and driving
// licenses into structured records.
//
// Every field is read by an ordered cascade of named rules where the first
// accepted match wins. Extraction never fails: a field that cannot be found
// is nil, and the completeness check reports what is missing.
package extract

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ionex/idverify/pkg/idcheck"
	"github.com/ionex/idverify/pkg/ocr"
)

// DocumentType names the kind of card an OCR result was read from.
type DocumentType string

const (
	DocumentIDCard         DocumentType = "id_card"
	DocumentDrivingLicense DocumentType = "driving_license"
)

// Record is implemented by the structured records of both document types.
type Record interface {
	// Field returns the named field's value, or nil when it is absent or the
	// record has no such field.
	Field(name string) *string
}

// IDCard holds the fields read from a national ID card.
type IDCard struct {
	IDNumber      *string `json:"idNumber" yaml:"idNumber"`
	Name          *string `json:"name" yaml:"name"`
	Gender        *string `json:"gender" yaml:"gender"`
	BirthDate     *string `json:"birthDate" yaml:"birthDate"`
	IssueDate     *string `json:"issueDate" yaml:"issueDate"`
	IssueLocation *string `json:"issueLocation" yaml:"issueLocation"`
}

func (c IDCard) Field(name string) *string {
	switch name {
	case "idNumber":
		return c.IDNumber
	case "name":
		return c.Name
	case "gender":
		return c.Gender
	case "birthDate":
		return c.BirthDate
	case "issueDate":
		return c.IssueDate
	case "issueLocation":
		return c.IssueLocation
	}
	return nil
}

// DrivingLicense holds the fields read from a driving license.
type DrivingLicense struct {
	LicenseNumber *string `json:"licenseNumber" yaml:"licenseNumber"`
	IDNumber      *string `json:"idNumber" yaml:"idNumber"`
	Name          *string `json:"name" yaml:"name"`
	BirthDate     *string `json:"birthDate" yaml:"birthDate"`
	IssueDate     *string `json:"issueDate" yaml:"issueDate"`
	LicenseType   *string `json:"licenseType" yaml:"licenseType"`
	Address       *string `json:"address" yaml:"address"`
}

func (l DrivingLicense) Field(name string) *string {
	switch name {
	case "licenseNumber":
		return l.LicenseNumber
	case "idNumber":
		return l.IDNumber
	case "name":
		return l.Name
	case "birthDate":
		return l.BirthDate
	case "issueDate":
		return l.IssueDate
	case "licenseType":
		return l.LicenseType
	case "address":
		return l.Address
	}
	return nil
}

// IDCardResult is the outcome of ParseIDCard. Success is true iff an ID
// number was found.
type IDCardResult struct {
	Success     bool     `json:"success" yaml:"success"`
	Data        IDCard   `json:"data" yaml:"data"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`
	RawText     string   `json:"rawText" yaml:"rawText"`
	Diagnostics []string `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// DrivingLicenseResult is the outcome of ParseDrivingLicense. Success is true
// iff a license number or an ID number was found.
type DrivingLicenseResult struct {
	Success     bool           `json:"success" yaml:"success"`
	Data        DrivingLicense `json:"data" yaml:"data"`
	Confidence  float64        `json:"confidence" yaml:"confidence"`
	RawText     string         `json:"rawText" yaml:"rawText"`
	Diagnostics []string       `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// Document is a parse result of either type.
type Document struct {
	Type        DocumentType `json:"documentType" yaml:"documentType"`
	Success     bool         `json:"success" yaml:"success"`
	Data        Record       `json:"data" yaml:"data"`
	Confidence  float64      `json:"confidence" yaml:"confidence"`
	RawText     string       `json:"rawText" yaml:"rawText"`
	Diagnostics []string     `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// IDNumber returns the document's ID number or "".
func (d Document) IDNumber() string {
	return d.field("idNumber")
}

// BirthDate returns the document's birth date text or "".
func (d Document) BirthDate() string {
	return d.field("birthDate")
}

func (d Document) field(name string) string {
	if d.Data == nil {
		return ""
	}
	return deref(d.Data.Field(name))
}

var licenseKeywords = []string{"駕照", "駕駛執照", "交通部"}

// DetectDocumentType routes text that mentions a license keyword or contains
// a license-number shaped token to the driving-license parser.
func DetectDocumentType(text string) DocumentType {
	for _, kw := range licenseKeywords {
		if strings.Contains(text, kw) {
			return DocumentDrivingLicense
		}
	}
	if licenseShape.MatchString(text) {
		return DocumentDrivingLicense
	}
	return DocumentIDCard
}

// Parse detects the document type and runs the matching parser.
func Parse(result ocr.Result) Document {
	docType := DetectDocumentType(result.Text)
	slog.Debug("Parsing document", "type", docType, "chars", len(result.Text), "words", len(result.Words))

	if docType == DocumentDrivingLicense {
		r := ParseDrivingLicense(result)
		return Document{
			Type:        docType,
			Success:     r.Success,
			Data:        r.Data,
			Confidence:  r.Confidence,
			RawText:     r.RawText,
			Diagnostics: r.Diagnostics,
		}
	}

	r := ParseIDCard(result)
	return Document{
		Type:        docType,
		Success:     r.Success,
		Data:        r.Data,
		Confidence:  r.Confidence,
		RawText:     r.RawText,
		Diagnostics: r.Diagnostics,
	}
}

// ParseIDCard extracts the ID card fields from an OCR result.
func ParseIDCard(result ocr.Result) (out IDCardResult) {
	out = IDCardResult{
		Confidence: result.Confidence,
		RawText:    result.Text,
	}
	text := normalizeSpaces(result.Text)
	var t trace

	defer func() {
		out.Diagnostics = t
		if r := recover(); r != nil {
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("id card parse aborted: %v", r))
			slog.Error("Recovered from id card parse failure", "panic", r)
		}
		out.Success = out.Data.IDNumber != nil
	}()

	d := &out.Data
	d.IDNumber = extractIDNumber(text, &t)
	d.Name = extractName(text, result.Lines, &t)
	if d.IDNumber != nil {
		if info := idcheck.DeriveInfo(*d.IDNumber); info != nil {
			d.Gender = ptr(info.Gender)
		}
	}
	d.BirthDate = extractBirthDate(text, &t)
	d.IssueDate = extractIssueDate(text, &t)
	d.IssueLocation = extractIssueLocation(text, &t)

	return out
}

// ParseDrivingLicense extracts the driving license fields from an OCR
// result. The word-level data feeds the license category search.
func ParseDrivingLicense(result ocr.Result) (out DrivingLicenseResult) {
	out = DrivingLicenseResult{
		Confidence: result.Confidence,
		RawText:    result.Text,
	}
	text := normalizeSpaces(result.Text)
	var t trace

	defer func() {
		out.Diagnostics = t
		if r := recover(); r != nil {
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("driving license parse aborted: %v", r))
			slog.Error("Recovered from driving license parse failure", "panic", r)
		}
		out.Success = out.Data.LicenseNumber != nil || out.Data.IDNumber != nil
	}()

	d := &out.Data
	d.LicenseNumber = extractLicenseNumber(text, &t)
	d.IDNumber = extractIDNumber(text, &t)
	d.Name = extractLicenseName(text, &t)
	d.BirthDate = extractBirthDate(text, &t)
	d.IssueDate = extractIssueDate(text, &t)
	d.LicenseType = extractLicenseType(text, result.Words, &t)
	d.Address = extractAddress(text, &t)

	return out
}

// normalizeSpaces maps ideographic and no-break spaces to ASCII spaces so the
// rules' \s classes see them.
func normalizeSpaces(s string) string {
	return strings.NewReplacer("\u3000", " ", "\u00a0", " ").Replace(s)
}

func ptr(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
