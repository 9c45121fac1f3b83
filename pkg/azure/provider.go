package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ionex/idverify/pkg/providers"
)

// Provider implements the Azure Computer Vision Read provider. The Read API
// takes no prompt, so Config.Prompt and Config.Model are ignored.
type Provider struct {
	PollInterval time.Duration
	MaxPolls     int
}

// ReadResult is the body of a Read operation poll (v3.2 and v4.0 layouts)
type ReadResult struct {
	Status        string `json:"status"`
	AnalyzeResult *struct {
		ReadResults []struct {
			Lines []struct {
				Text string `json:"text"`
			} `json:"lines"`
		} `json:"readResults"`
		Pages []struct {
			Lines []struct {
				Content string `json:"content"`
			} `json:"lines"`
		} `json:"pages"`
	} `json:"analyzeResult"`
}

// New creates a new Azure provider
func New() *Provider {
	return &Provider{PollInterval: time.Second, MaxPolls: 30}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "azure"
}

func credentials() (endpoint, apiKey string, err error) {
	endpoint = os.Getenv("AZURE_OCR_ENDPOINT")
	apiKey = os.Getenv("AZURE_OCR_API_KEY")
	if endpoint == "" || apiKey == "" {
		return "", "", fmt.Errorf("AZURE_OCR_ENDPOINT and AZURE_OCR_API_KEY environment variables must be set")
	}
	return strings.TrimSuffix(endpoint, "/"), apiKey, nil
}

// ValidateConfig validates the Azure configuration
func (p *Provider) ValidateConfig(config providers.Config) error {
	_, _, err := credentials()
	return err
}

// ExtractText submits the image to the Read API and polls for the result
func (p *Provider) ExtractText(ctx context.Context, config providers.Config, imagePath, imageBase64 string) (string, providers.UsageInfo, error) {
	endpoint, apiKey, err := credentials()
	if err != nil {
		return "", providers.UsageInfo{}, err
	}

	imageData, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return "", providers.UsageInfo{}, fmt.Errorf("failed to decode base64 image: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/vision/v3.2/read/analyze", bytes.NewReader(imageData))
	if err != nil {
		return "", providers.UsageInfo{}, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	client := &http.Client{Timeout: providers.Timeout(config, 60*time.Second)}
	resp, err := client.Do(req)
	if err != nil {
		return "", providers.UsageInfo{}, err
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", providers.UsageInfo{}, fmt.Errorf("azure OCR API error: %d - %s", resp.StatusCode, providers.TruncateBody(body))
	}

	operationURL := resp.Header.Get("Operation-Location")
	if operationURL == "" {
		return "", providers.UsageInfo{}, fmt.Errorf("no operation location returned from Azure OCR")
	}

	for range p.MaxPolls {
		select {
		case <-ctx.Done():
			return "", providers.UsageInfo{}, ctx.Err()
		case <-time.After(p.PollInterval):
		}

		result, ok, err := p.poll(ctx, client, operationURL, apiKey)
		if err != nil {
			return "", providers.UsageInfo{}, err
		}
		if !ok {
			continue
		}

		switch result.Status {
		case "succeeded":
			return providers.ProcessResponse(p, joinLines(result)), providers.UsageInfo{}, nil
		case "failed":
			return "", providers.UsageInfo{}, fmt.Errorf("azure OCR analysis failed")
		}
		// "running" and "notStarted" keep polling
	}

	return "", providers.UsageInfo{}, fmt.Errorf("azure OCR operation timed out")
}

// poll fetches the operation once. ok is false when the server answered with
// a non-200 status, which is retried.
func (p *Provider) poll(ctx context.Context, client *http.Client, operationURL, apiKey string) (ReadResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return ReadResult{}, false, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return ReadResult{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ReadResult{}, false, nil
	}

	var result ReadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ReadResult{}, false, err
	}
	if result.Status == "" {
		return ReadResult{}, false, fmt.Errorf("invalid response format from Azure OCR")
	}
	return result, true, nil
}

// joinLines concatenates the recognized lines, preferring the v3.2 layout.
func joinLines(result ReadResult) string {
	if result.AnalyzeResult == nil {
		return ""
	}

	var texts []string
	if len(result.AnalyzeResult.ReadResults) > 0 {
		for _, rr := range result.AnalyzeResult.ReadResults {
			for _, line := range rr.Lines {
				texts = append(texts, line.Text)
			}
		}
	} else {
		for _, page := range result.AnalyzeResult.Pages {
			for _, line := range page.Lines {
				texts = append(texts, line.Content)
			}
		}
	}
	return strings.Join(texts, "\n")
}
