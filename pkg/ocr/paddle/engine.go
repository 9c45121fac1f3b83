// Package paddle talks to a PaddleOCR serving endpoint (the PaddleX OCR
// pipeline HTTP API).
package paddle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ionex/idverify/pkg/ocr"
	"github.com/ionex/idverify/pkg/providers"
)

const DefaultURL = "http://localhost:8080/ocr"

// Engine posts images to the serving endpoint at URL.
type Engine struct {
	URL     string
	Timeout time.Duration

	used atomic.Bool
}

type request struct {
	File     string `json:"file"`
	FileType int    `json:"fileType"`
}

// Response is the body returned by the OCR pipeline.
type Response struct {
	ErrorCode int    `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
	Result    struct {
		OCRResults []struct {
			PrunedResult struct {
				RecTexts  []string    `json:"rec_texts"`
				RecScores []float64   `json:"rec_scores"`
				RecBoxes  [][]float64 `json:"rec_boxes"`
			} `json:"prunedResult"`
		} `json:"ocrResults"`
	} `json:"result"`
}

func New(url string) *Engine {
	if url == "" {
		url = DefaultURL
	}
	return &Engine{URL: url, Timeout: 60 * time.Second}
}

func (e *Engine) Name() string { return "paddle" }

func (e *Engine) Profile() ocr.Profile { return ocr.ProfileColor }

func (e *Engine) Status() ocr.Status {
	return ocr.Status{Engine: "PaddleOCR", IsInitialized: e.used.Load()}
}

func (e *Engine) Close() error { return nil }

func (e *Engine) Recognize(ctx context.Context, imagePath string) (ocr.Result, error) {
	content, err := os.ReadFile(imagePath)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("failed to read image: %w", err)
	}

	body, err := json.Marshal(request{
		File:     base64.StdEncoding.EncodeToString(content),
		FileType: 1,
	})
	if err != nil {
		return ocr.Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return ocr.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: e.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("paddle OCR request failed: %w", err)
	}
	defer resp.Body.Close()
	e.used.Store(true)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ocr.Result{}, fmt.Errorf("paddle OCR error: %d - %s", resp.StatusCode, providers.TruncateBody(respBody))
	}

	var paddleResp Response
	if err := json.Unmarshal(respBody, &paddleResp); err != nil {
		return ocr.Result{}, fmt.Errorf("failed to parse JSON response: %w - body: %s", err, providers.TruncateBody(respBody))
	}
	if paddleResp.ErrorCode != 0 {
		return ocr.Result{}, fmt.Errorf("paddle OCR error %d: %s", paddleResp.ErrorCode, paddleResp.ErrorMsg)
	}

	result := toResult(paddleResp)
	slog.Debug("PaddleOCR recognized text", "chars", len(result.Text), "words", len(result.Words), "confidence", result.Confidence)
	return result, nil
}

// toResult joins the detected regions into text, one region per line.
// Scores are in [0,1] and scaled to [0,100].
func toResult(resp Response) ocr.Result {
	words := []ocr.Word{}
	var texts []string

	for _, page := range resp.Result.OCRResults {
		r := page.PrunedResult
		for i, text := range r.RecTexts {
			w := ocr.Word{Text: text}
			if i < len(r.RecScores) {
				w.Confidence = r.RecScores[i] * 100
			}
			if i < len(r.RecBoxes) && len(r.RecBoxes[i]) == 4 {
				b := r.RecBoxes[i]
				w.BBox = ocr.BBox{X0: int(b[0]), Y0: int(b[1]), X1: int(b[2]), Y1: int(b[3])}
			}
			words = append(words, w)
			texts = append(texts, text)
		}
	}

	lines := ocr.GroupWordsIntoLines(words)
	if lines == nil {
		lines = []ocr.Line{}
	}
	return ocr.Result{
		Text:       strings.TrimSpace(strings.Join(texts, "\n")),
		Confidence: ocr.AverageConfidence(words),
		Words:      words,
		Lines:      lines,
	}
}
