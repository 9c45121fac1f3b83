// Package tesseract runs OCR locally through libtesseract.
package tesseract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/ionex/idverify/pkg/ocr"
)

// DefaultWhitelist limits recognition to the characters that appear on ID
// cards: Latin letters, digits, date units, region names and gender.
const DefaultWhitelist = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz" +
	"一二三四五六七八九十年月日台北新竹苗栗台中彰化南投雲林嘉義台南高雄屏東宜蘭花蓮台東澎湖金門連江基隆桃園男女省市縣"

// Engine wraps one gosseract client. The client is created on first use and
// calls are serialized, since a client holds a single image at a time.
type Engine struct {
	Languages []string
	Whitelist string

	mu     sync.Mutex
	client *gosseract.Client
}

// New returns an engine for a Tesseract language list such as "chi_tra+eng".
func New(lang string) *Engine {
	if lang == "" {
		lang = "chi_tra+eng"
	}
	return &Engine{
		Languages: strings.Split(lang, "+"),
		Whitelist: DefaultWhitelist,
	}
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Profile() ocr.Profile { return ocr.ProfileGrayscale }

func (e *Engine) Status() ocr.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ocr.Status{Engine: "Tesseract", IsInitialized: e.client != nil}
}

func (e *Engine) init() error {
	if e.client != nil {
		return nil
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(e.Languages...); err != nil {
		client.Close()
		return fmt.Errorf("failed to set tesseract languages: %w", err)
	}
	if e.Whitelist != "" {
		if err := client.SetWhitelist(e.Whitelist); err != nil {
			client.Close()
			return fmt.Errorf("failed to set tesseract whitelist: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		client.Close()
		return fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	e.client = client
	slog.Info("Tesseract initialized", "languages", e.Languages)
	return nil
}

func (e *Engine) Recognize(ctx context.Context, imagePath string) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.init(); err != nil {
		return ocr.Result{}, err
	}
	if err := e.client.SetImage(imagePath); err != nil {
		return ocr.Result{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := e.client.Text()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	wordBoxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("failed to read word boxes: %w", err)
	}
	lineBoxes, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("failed to read line boxes: %w", err)
	}

	words := fromBoxes(wordBoxes)
	result := ocr.Result{
		Text:       text,
		Confidence: ocr.AverageConfidence(words),
		Words:      words,
		Lines:      fromBoxes(lineBoxes),
	}
	slog.Debug("Tesseract recognized text", "chars", len(text), "words", len(words), "confidence", result.Confidence)
	return result, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

func fromBoxes(boxes []gosseract.BoundingBox) []ocr.Word {
	words := make([]ocr.Word, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		words = append(words, ocr.Word{
			Text:       text,
			Confidence: b.Confidence,
			BBox: ocr.BBox{
				X0: b.Box.Min.X,
				Y0: b.Box.Min.Y,
				X1: b.Box.Max.X,
				Y1: b.Box.Max.Y,
			},
		})
	}
	return words
}
