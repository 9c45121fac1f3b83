package azure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ionex/idverify/pkg/providers"
)

func TestProvider_Name(t *testing.T) {
	if got := New().Name(); got != "azure" {
		t.Errorf("Expected name 'azure', got '%s'", got)
	}
}

func TestProvider_ValidateConfig(t *testing.T) {
	tests := []struct {
		name        string
		endpoint    string
		apiKey      string
		expectError bool
	}{
		{name: "valid config", endpoint: "https://test.cognitiveservices.azure.com", apiKey: "test-key"},
		{name: "missing endpoint", apiKey: "test-key", expectError: true},
		{name: "missing API key", endpoint: "https://test.cognitiveservices.azure.com", expectError: true},
		{name: "both missing", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AZURE_OCR_ENDPOINT", tt.endpoint)
			t.Setenv("AZURE_OCR_API_KEY", tt.apiKey)

			err := New().ValidateConfig(providers.Config{Provider: "azure"})
			if tt.expectError != (err != nil) {
				t.Errorf("ValidateConfig() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

// newReadServer accepts one analyze call and answers polls with the given
// statuses in order, the last one repeating.
func newReadServer(t *testing.T, analyzeStatus int, polls ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var count atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "test-key" {
			t.Error("missing subscription key")
		}
		switch r.Method {
		case http.MethodPost:
			if r.URL.Path != "/vision/v3.2/read/analyze" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if analyzeStatus == http.StatusAccepted {
				w.Header().Set("Operation-Location", server.URL+"/operations/1")
			}
			w.WriteHeader(analyzeStatus)
		case http.MethodGet:
			n := int(count.Add(1)) - 1
			if n >= len(polls) {
				n = len(polls) - 1
			}
			w.Write([]byte(polls[n]))
		}
	}))
	return server, &count
}

func TestProvider_ExtractText(t *testing.T) {
	tests := []struct {
		name          string
		analyze       int
		polls         []string
		expectedText  string
		errorContains string
	}{
		{
			name:    "v3.2 result after running",
			analyze: http.StatusAccepted,
			polls: []string{
				`{"status": "running"}`,
				`{"status": "succeeded", "analyzeResult": {"readResults": [{"lines": [{"text": "7KQ2"}]}]}}`,
			},
			expectedText: "7KQ2",
		},
		{
			name:         "v4.0 result",
			analyze:      http.StatusAccepted,
			polls:        []string{`{"status": "succeeded", "analyzeResult": {"pages": [{"lines": [{"content": "AB"}, {"content": "CD"}]}]}}`},
			expectedText: "AB\nCD",
		},
		{
			name:          "analysis failed",
			analyze:       http.StatusAccepted,
			polls:         []string{`{"status": "failed"}`},
			errorContains: "analysis failed",
		},
		{
			name:          "never finishes",
			analyze:       http.StatusAccepted,
			polls:         []string{`{"status": "running"}`},
			errorContains: "timed out",
		},
		{
			name:          "rejected upload",
			analyze:       http.StatusUnauthorized,
			errorContains: "azure OCR API error: 401",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newReadServer(t, tt.analyze, tt.polls...)
			defer server.Close()

			t.Setenv("AZURE_OCR_ENDPOINT", server.URL+"/")
			t.Setenv("AZURE_OCR_API_KEY", "test-key")
			p := &Provider{PollInterval: time.Millisecond, MaxPolls: 3}

			text, _, err := p.ExtractText(context.Background(), providers.Config{}, "captcha.png", "aW1n")
			if tt.errorContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("Expected error containing %q, got %v", tt.errorContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if text != tt.expectedText {
				t.Errorf("Expected %q, got %q", tt.expectedText, text)
			}
		})
	}
}

func TestProvider_ExtractTextBadBase64(t *testing.T) {
	t.Setenv("AZURE_OCR_ENDPOINT", "http://localhost")
	t.Setenv("AZURE_OCR_API_KEY", "test-key")
	_, _, err := New().ExtractText(context.Background(), providers.Config{}, "c.png", "!!!")
	if err == nil || !strings.Contains(err.Error(), "base64") {
		t.Errorf("Expected base64 error, got %v", err)
	}
}

func TestJoinLines(t *testing.T) {
	var result ReadResult
	if got := joinLines(result); got != "" {
		t.Errorf("joinLines(empty) = %q", got)
	}
	body := `{"status": "succeeded", "analyzeResult": {"readResults": [{"lines": [{"text": "a"}]}, {"lines": [{"text": "b"}]}]}}`
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatal(err)
	}
	if got := joinLines(result); got != "a\nb" {
		t.Errorf("joinLines() = %q", got)
	}
}
