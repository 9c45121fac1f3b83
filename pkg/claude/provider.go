package claude

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
	DefaultModel   = "claude-3-5-haiku-latest"
	DefaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

// Provider implements the Anthropic Claude vision provider
type Provider struct {
	// BaseURL is the API root; ANTHROPIC_BASE_URL overrides the default.
	BaseURL string
}

// Response represents an Anthropic API response
type Response struct {
	Content []struct {
		Text string `json:"text"`
		Type string `json:"type"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type source struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type block struct {
	Type   string  `json:"type"`
	Text   string  `json:"text,omitempty"`
	Source *source `json:"source,omitempty"`
}

type message struct {
	Role    string  `json:"role"`
	Content []block `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Messages    []message `json:"messages"`
}

// New creates a new Claude provider
func New() *Provider {
	baseURL := os.Getenv("ANTHROPIC_BASE_URL")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Provider{BaseURL: baseURL}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "claude"
}

// ValidateConfig validates the Claude configuration
func (p *Provider) ValidateConfig(config providers.Config) error {
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}
	return nil
}

// ExtractText reads the text in an image using the Messages API
func (p *Provider) ExtractText(ctx context.Context, config providers.Config, imagePath, imageBase64 string) (string, providers.UsageInfo, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return "", providers.UsageInfo{}, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}

	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	body := request{
		Model:     model,
		MaxTokens: 256,
		Messages: []message{{
			Role: "user",
			Content: []block{
				// Claude uses "media_type" instead of "mime_type"
				{Type: "image", Source: &source{Type: "base64", MediaType: providers.MimeType(imagePath), Data: imageBase64}},
				{Type: "text", Text: config.Prompt},
			},
		}},
	}
	if config.Temperature > 0 {
		t := config.Temperature
		body.Temperature = &t
	}

	client := &http.Client{Timeout: providers.Timeout(config, 120*time.Second)}
	respBody, err := providers.PostJSON(ctx, client, "claude",
		strings.TrimSuffix(p.BaseURL, "/")+"/messages",
		map[string]string{"x-api-key": apiKey, "anthropic-version": apiVersion},
		body, http.StatusOK)
	if err != nil {
		return "", providers.UsageInfo{}, err
	}

	var claudeResp Response
	if err := json.Unmarshal(respBody, &claudeResp); err != nil {
		return "", providers.UsageInfo{}, fmt.Errorf("failed to parse JSON response: %w - body: %s", err, providers.TruncateBody(respBody))
	}

	if len(claudeResp.Content) == 0 {
		return "", providers.UsageInfo{}, fmt.Errorf("no response from Claude")
	}

	var extractedText string
	for _, content := range claudeResp.Content {
		if content.Type == "text" {
			extractedText = content.Text
			break
		}
	}
	if extractedText == "" {
		return "", providers.UsageInfo{}, fmt.Errorf("no text content in Claude response")
	}

	usage := providers.UsageInfo{
		InputTokens:  claudeResp.Usage.InputTokens,
		OutputTokens: claudeResp.Usage.OutputTokens,
	}

	return providers.ProcessResponse(p, extractedText), usage, nil
}
