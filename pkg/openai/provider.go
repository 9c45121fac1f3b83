package openai

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
	DefaultModel   = "gpt-4o-mini"
	DefaultBaseURL = "https://api.openai.com/v1"
)

// Provider implements the OpenAI vision provider
type Provider struct {
	// BaseURL is the API root; OPENAI_BASE_URL overrides the default.
	BaseURL string
}

// Response represents an OpenAI API response
type Response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type imageURL struct {
	URL string `json:"url"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// New creates a new OpenAI provider
func New() *Provider {
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Provider{BaseURL: baseURL}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "openai"
}

// ValidateConfig validates the OpenAI configuration
func (p *Provider) ValidateConfig(config providers.Config) error {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	return nil
}

// ExtractText reads the text in an image with a chat completion carrying
// the image as a data URL
func (p *Provider) ExtractText(ctx context.Context, config providers.Config, imagePath, imageBase64 string) (string, providers.UsageInfo, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return "", providers.UsageInfo{}, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	body := request{
		Model:       model,
		Temperature: config.Temperature,
		MaxTokens:   256,
		Messages: []message{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: config.Prompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", providers.MimeType(imagePath), imageBase64),
				}},
			},
		}},
	}

	client := &http.Client{Timeout: providers.Timeout(config, 60*time.Second)}
	respBody, err := providers.PostJSON(ctx, client, "openAI",
		strings.TrimSuffix(p.BaseURL, "/")+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + apiKey},
		body, http.StatusOK)
	if err != nil {
		return "", providers.UsageInfo{}, err
	}

	var openaiResp Response
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		return "", providers.UsageInfo{}, fmt.Errorf("failed to parse JSON response: %w - body: %s", err, providers.TruncateBody(respBody))
	}

	if len(openaiResp.Choices) == 0 {
		return "", providers.UsageInfo{}, fmt.Errorf("no response from OpenAI - body: %s", providers.TruncateBody(respBody))
	}

	usage := providers.UsageInfo{
		InputTokens:  openaiResp.Usage.PromptTokens,
		OutputTokens: openaiResp.Usage.CompletionTokens,
	}

	return providers.ProcessResponse(p, openaiResp.Choices[0].Message.Content), usage, nil
}
