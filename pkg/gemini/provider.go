package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ionex/idverify/pkg/providers"
)

const (
	DefaultModel   = "gemini-2.0-flash"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Provider implements the Google Gemini vision provider
type Provider struct {
	// BaseURL is the API root; GEMINI_BASE_URL overrides the default.
	BaseURL string
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type request struct {
	Contents         []content `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

// Response is the subset of a generateContent reply the provider reads
type Response struct {
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// New creates a new Gemini provider
func New() *Provider {
	baseURL := os.Getenv("GEMINI_BASE_URL")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Provider{BaseURL: baseURL}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "gemini"
}

// ValidateConfig validates the Gemini configuration
func (p *Provider) ValidateConfig(config providers.Config) error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}
	return nil
}

// ExtractText reads the text in an image with a Gemini generateContent call
func (p *Provider) ExtractText(ctx context.Context, config providers.Config, imagePath, imageBase64 string) (string, providers.UsageInfo, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return "", providers.UsageInfo{}, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	var body request
	body.Contents = []content{{Parts: []part{
		{Text: config.Prompt},
		{InlineData: &inlineData{MimeType: providers.MimeType(imagePath), Data: imageBase64}},
	}}}
	body.GenerationConfig.Temperature = config.Temperature

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", strings.TrimSuffix(p.BaseURL, "/"), model, apiKey)
	client := &http.Client{Timeout: providers.Timeout(config, 60*time.Second)}
	respBody, err := providers.PostJSON(ctx, client, "gemini", url, nil, body, http.StatusOK)
	if err != nil {
		return "", providers.UsageInfo{}, err
	}

	var geminiResp Response
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return "", providers.UsageInfo{}, fmt.Errorf("failed to parse JSON response: %w - body: %s", err, providers.TruncateBody(respBody))
	}

	if len(geminiResp.Candidates) == 0 {
		return "", providers.UsageInfo{}, fmt.Errorf("no response from Gemini")
	}
	candidate := geminiResp.Candidates[0]
	if candidate.Content == nil {
		return "", providers.UsageInfo{}, fmt.Errorf("invalid content format from Gemini")
	}
	if len(candidate.Content.Parts) == 0 {
		return "", providers.UsageInfo{}, fmt.Errorf("no parts in Gemini response")
	}
	text := candidate.Content.Parts[0].Text
	if text == nil {
		return "", providers.UsageInfo{}, fmt.Errorf("no text in Gemini response")
	}

	usage := providers.UsageInfo{
		InputTokens:  geminiResp.UsageMetadata.PromptTokenCount,
		OutputTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
	}
	return providers.ProcessResponse(p, *text), usage, nil
}
