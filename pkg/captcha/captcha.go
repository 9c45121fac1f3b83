// Package captcha reads the four-character verification codes shown on the
// penalty query form.
package captcha

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/ionex/idverify/internal/utils"
	"github.com/ionex/idverify/pkg/providers"
)

// DefaultPrompt asks for the four characters and nothing else, ignoring the
// interference lines drawn over the image.
const DefaultPrompt = "這是一張驗證碼圖片，包含 4 個字元（大寫英文字母 A-Z 或數字 0-9）。請忽略干擾線，只辨識驗證碼並直接回覆 4 個字元，不要有其他文字。"

const (
	ConfidenceValid   = 95
	ConfidenceInvalid = 50
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)

// Result is a recognized code. Text is empty when recognition failed.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer turns a CAPTCHA image on disk into text.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (Result, error)
}

// Func adapts a plain function to Recognizer.
type Func func(ctx context.Context, imagePath string) (Result, error)

func (f Func) Recognize(ctx context.Context, imagePath string) (Result, error) {
	return f(ctx, imagePath)
}

// Clean normalizes a raw model reply: whitespace is removed and letters are
// upper-cased. A well-formed four-character code scores ConfidenceValid;
// anything else is kept but scores ConfidenceInvalid.
func Clean(raw string) Result {
	text := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	text = strings.ToUpper(text)

	if text == "" {
		return Result{}
	}
	if codePattern.MatchString(text) {
		return Result{Text: text, Confidence: ConfidenceValid}
	}
	return Result{Text: text, Confidence: ConfidenceInvalid}
}

// VisionRecognizer asks a vision model to read the code.
type VisionRecognizer struct {
	Provider providers.Provider
	Config   providers.Config
}

// NewVisionRecognizer uses DefaultPrompt at temperature zero.
func NewVisionRecognizer(provider providers.Provider, model string) *VisionRecognizer {
	return &VisionRecognizer{
		Provider: provider,
		Config: providers.Config{
			Provider: provider.Name(),
			Model:    model,
			Prompt:   DefaultPrompt,
		},
	}
}

// Recognize never reports a partial result: on any error the Result is
// empty with zero confidence.
func (r *VisionRecognizer) Recognize(ctx context.Context, imagePath string) (Result, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read captcha image: %w", err)
	}

	text, usage, err := r.Provider.ExtractText(ctx, r.Config, imagePath, base64.StdEncoding.EncodeToString(data))
	if err != nil {
		err = utils.MaskSensitiveError(err)
		slog.Warn("CAPTCHA recognition failed", "provider", r.Provider.Name(), "err", err)
		return Result{}, fmt.Errorf("%s: %w", r.Provider.Name(), err)
	}

	result := Clean(text)
	slog.Debug("CAPTCHA recognized",
		"provider", r.Provider.Name(),
		"text", result.Text,
		"confidence", result.Confidence,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	return result, nil
}
