package ollama

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
	DefaultModel = "llava"
	DefaultURL   = "http://localhost:11434"
)

// Provider implements the Ollama local provider
type Provider struct{}

type request struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Images  []string `json:"images"`
	Stream  bool     `json:"stream"`
	Options struct {
		Temperature float64 `json:"temperature"`
	} `json:"options"`
}

// Response is a non-streaming /api/generate reply
type Response struct {
	Response        *string `json:"response"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

// New creates a new Ollama provider
func New() *Provider {
	return &Provider{}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "ollama"
}

// ValidateConfig validates the Ollama configuration
func (p *Provider) ValidateConfig(config providers.Config) error {
	// A local server needs no credentials
	return nil
}

func baseURL() string {
	if u := os.Getenv("OLLAMA_URL"); u != "" {
		return strings.TrimSuffix(u, "/")
	}
	return DefaultURL
}

// ExtractText reads the text in an image with a local vision model
func (p *Provider) ExtractText(ctx context.Context, config providers.Config, imagePath, imageBase64 string) (string, providers.UsageInfo, error) {
	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	body := request{
		Model:  model,
		Prompt: config.Prompt,
		Images: []string{imageBase64},
	}
	body.Options.Temperature = config.Temperature

	// Longer timeout for local inference
	client := &http.Client{Timeout: providers.Timeout(config, 300*time.Second)}
	respBody, err := providers.PostJSON(ctx, client, "ollama", baseURL()+"/api/generate", nil, body, http.StatusOK)
	if err != nil {
		return "", providers.UsageInfo{}, err
	}

	var ollamaResp Response
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return "", providers.UsageInfo{}, fmt.Errorf("failed to parse JSON response: %w - body: %s", err, providers.TruncateBody(respBody))
	}
	if ollamaResp.Response == nil {
		return "", providers.UsageInfo{}, fmt.Errorf("no response from Ollama")
	}

	usage := providers.UsageInfo{
		InputTokens:  ollamaResp.PromptEvalCount,
		OutputTokens: ollamaResp.EvalCount,
	}
	return providers.ProcessResponse(p, *ollamaResp.Response), usage, nil
}
