package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ionex/idverify/pkg/idcheck"
	"github.com/ionex/idverify/pkg/ocr"
)

var (
	allWhitespace = regexp.MustCompile(`\s`)

	// confusables are letters OCR commonly reads in place of digits.
	confusables = strings.NewReplacer("O", "0", "I", "1", "S", "5", "B", "8")
)

// extractIDNumber returns the first checksum-valid ID number in text. When
// none is found it retries once after replacing digit look-alike letters.
func extractIDNumber(text string, t *trace) *string {
	if ids := idcheck.ExtractCandidates(text); len(ids) > 0 {
		t.matched("idNumber", "checksum scan")
		return ptr(ids[0])
	}

	normalized := allWhitespace.ReplaceAllString(strings.ToUpper(text), "")
	if ids := idcheck.ExtractCandidates(confusables.Replace(normalized)); len(ids) > 0 {
		t.matched("idNumber", "look-alike letters replaced")
		return ptr(ids[0])
	}
	return nil
}

func extractName(text string, lines []ocr.Line, t *trace) *string {
	if name, ok := t.first("name", text, nameRules, acceptName); ok {
		return ptr(name)
	}

	for _, line := range lines {
		if !strings.Contains(line.Text, "姓名") {
			continue
		}
		parts := nameLineSeparators.Split(line.Text, -1)
		for _, part := range parts[1:] {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if cjkName.MatchString(part) {
				t.matched("name", "line scan")
				return ptr(part)
			}
			break
		}
	}
	return nil
}

func extractLicenseName(text string, t *trace) *string {
	if name, ok := t.first("name", text, licenseNameRules, acceptName); ok {
		return ptr(name)
	}
	return nil
}

// extractBirthDate renders the date as YY年MM月DD日.
func extractBirthDate(text string, t *trace) *string {
	if date, ok := t.first("birthDate", text, birthDateRules, dateFormatter("%s年%s月%s日")); ok {
		return ptr(date)
	}
	return nil
}

// extractIssueDate renders the date as YY.MM.DD.
func extractIssueDate(text string, t *trace) *string {
	if date, ok := t.first("issueDate", text, issueDateRules, dateFormatter("%s.%s.%s")); ok {
		return ptr(date)
	}
	return nil
}

func extractIssueLocation(text string, t *trace) *string {
	for _, city := range cities {
		if strings.Contains(text, city) {
			t.matched("issueLocation", "city list")
			return ptr(city)
		}
	}
	if loc, ok := t.first("issueLocation", text, issueLocationRules, acceptCapture); ok {
		return ptr(loc)
	}
	return nil
}

func extractLicenseNumber(text string, t *trace) *string {
	if number, ok := t.first("licenseNumber", text, licenseNumberRules, acceptCapture); ok {
		return ptr(number)
	}
	return nil
}

func extractAddress(text string, t *trace) *string {
	accept := func(groups []string) (string, bool) {
		address := strings.TrimSpace(groups[1])
		n := utf8.RuneCountInString(address)
		return address, n >= 5 && n <= 100
	}
	if address, ok := t.first("address", text, addressRules, accept); ok {
		return ptr(address)
	}
	return nil
}
