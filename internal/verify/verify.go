// Package verify runs the full card pipeline: image checks, preprocessing,
// OCR, field extraction, completeness check and the optional violation query.
package verify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ionex/idverify/internal/utils"
	"github.com/ionex/idverify/pkg/extract"
	"github.com/ionex/idverify/pkg/imaging"
	"github.com/ionex/idverify/pkg/ocr"
	"github.com/ionex/idverify/pkg/penalty"
)

const (
	MessageSuccess      = "辨識成功"
	MessageFailure      = "辨識失敗，請確認圖片品質"
	suffixQueryDone     = "，已自動填寫監理服務網表單"
	suffixQueryFailed   = "，但自動填寫表單失敗"
	messageMissingInput = "缺少身分證字號或生日，無法查詢"
)

// ErrInvalidImage marks failures caused by the submitted image rather than
// by the pipeline.
var ErrInvalidImage = errors.New("invalid image")

// Querier is the part of penalty.Querier the pipeline needs.
type Querier interface {
	QueryViolation(ctx context.Context, idNumber, birthDateText string) (penalty.Outcome, error)
}

// Recorder receives pipeline measurements.
type Recorder interface {
	DocumentParsed(documentType string, success bool)
	ObserveOCR(engine string, start time.Time)
}

// Automation reports the violation query run after a successful parse.
type Automation struct {
	Success      bool     `json:"success" yaml:"success"`
	HasViolation bool     `json:"hasViolation" yaml:"has_violation"`
	Message      string   `json:"message" yaml:"message"`
	ResultText   string   `json:"resultText,omitempty" yaml:"result_text,omitempty"`
	Attempts     int      `json:"attempts" yaml:"attempts"`
	Cached       bool     `json:"cached,omitempty" yaml:"cached,omitempty"`
	Errors       []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Response is what the CLI prints and the HTTP API returns.
type Response struct {
	Success      bool                      `json:"success" yaml:"success"`
	DocumentType extract.DocumentType      `json:"documentType" yaml:"document_type"`
	Data         extract.Record            `json:"data" yaml:"data"`
	Validation   extract.ValidationSummary `json:"validation" yaml:"validation"`
	Confidence   float64                   `json:"confidence" yaml:"confidence"`
	Message      string                    `json:"message" yaml:"message"`
	RawText      string                    `json:"rawText,omitempty" yaml:"raw_text,omitempty"`
	Diagnostics  []string                  `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Automation   *Automation               `json:"automation,omitempty" yaml:"automation,omitempty"`
}

// Service wires one OCR engine to the extraction engine and, when Querier is
// set, to the violation query.
type Service struct {
	Engine  ocr.Engine
	Images  *imaging.Processor
	Querier Querier
	Metrics Recorder
	// SkipPreprocess sends the original image to the engine.
	SkipPreprocess bool
	// IncludeRawText copies the OCR text into the response.
	IncludeRawText bool
}

// VerifyURL downloads the image and verifies it.
func (s *Service) VerifyURL(ctx context.Context, imageURL string, autoQuery bool) (*Response, error) {
	path, err := s.Images.Download(ctx, imageURL)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupportedScheme) || errors.Is(err, imaging.ErrTooLarge) {
			return nil, errors.Join(ErrInvalidImage, err)
		}
		return nil, err
	}
	defer imaging.Cleanup(path)

	return s.VerifyFile(ctx, path, autoQuery)
}

// VerifyFile runs the pipeline over a local image. The caller owns path.
func (s *Service) VerifyFile(ctx context.Context, path string, autoQuery bool) (*Response, error) {
	result, err := s.Recognize(ctx, path)
	if err != nil {
		return nil, err
	}

	resp := Build(extract.Parse(result))
	if s.Metrics != nil {
		s.Metrics.DocumentParsed(string(resp.DocumentType), resp.Success)
	}
	if !s.IncludeRawText {
		resp.RawText = ""
	}

	if autoQuery && resp.Success {
		resp.Automation = s.query(ctx, resp)
		if resp.Automation.Success {
			resp.Message += suffixQueryDone
		} else {
			resp.Message += suffixQueryFailed
		}
	}
	return resp, nil
}

// Recognize checks the image at path, preprocesses it for the engine and
// returns the raw OCR result. The caller owns path.
func (s *Service) Recognize(ctx context.Context, path string) (ocr.Result, error) {
	info, err := imaging.Validate(path)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupportedFormat) || errors.Is(err, imaging.ErrTooSmall) {
			return ocr.Result{}, errors.Join(ErrInvalidImage, err)
		}
		return ocr.Result{}, err
	}
	slog.Debug("Image accepted", "format", info.Format, "width", info.Width, "height", info.Height)

	ocrPath := path
	if !s.SkipPreprocess {
		processed, err := s.Images.Preprocess(ctx, path, s.Engine.Profile())
		if err != nil {
			slog.Warn("Preprocessing failed, using original image", "err", err)
		} else {
			ocrPath = processed
			defer imaging.Cleanup(processed)
		}
	}

	start := time.Now()
	result, err := s.Engine.Recognize(ctx, ocrPath)
	if s.Metrics != nil {
		s.Metrics.ObserveOCR(s.Engine.Name(), start)
	}
	if err != nil {
		return ocr.Result{}, utils.MaskSensitiveError(err)
	}
	slog.Info("OCR finished", "engine", s.Engine.Name(), "chars", len(result.Text), "confidence", result.Confidence)
	return result, nil
}

// Build turns a parsed document into a response without running a query.
func Build(doc extract.Document) *Response {
	resp := &Response{
		Success:      doc.Success,
		DocumentType: doc.Type,
		Data:         doc.Data,
		Confidence:   doc.Confidence,
		RawText:      doc.RawText,
		Diagnostics:  doc.Diagnostics,
		Message:      MessageFailure,
	}
	if doc.Data != nil {
		resp.Validation = extract.ValidateParseResult(doc.Data)
	}
	if doc.Success {
		resp.Message = MessageSuccess
	}
	return resp
}

func (s *Service) query(ctx context.Context, resp *Response) *Automation {
	if s.Querier == nil {
		return &Automation{Message: "violation query is not configured"}
	}

	id, birth := "", ""
	if resp.Data != nil {
		if v := resp.Data.Field("idNumber"); v != nil {
			id = *v
		}
		if v := resp.Data.Field("birthDate"); v != nil {
			birth = *v
		}
	}
	if id == "" || birth == "" {
		return &Automation{Message: messageMissingInput}
	}

	slog.Info("Running violation query", "id", utils.MaskIDNumber(id))
	outcome, err := s.Querier.QueryViolation(ctx, id, birth)
	auto := &Automation{
		HasViolation: outcome.HasViolation,
		ResultText:   outcome.ResultText,
		Attempts:     outcome.Attempts,
		Cached:       outcome.Cached,
		Errors:       outcome.Errors,
	}
	if err != nil {
		slog.Warn("Violation query failed", "attempts", outcome.Attempts, "err", err)
		auto.Message = err.Error()
		return auto
	}

	auto.Success = true
	auto.Message = "查詢完成：查無違規紀錄"
	if outcome.HasViolation {
		auto.Message = "查詢完成：有違規紀錄"
	}
	return auto
}
