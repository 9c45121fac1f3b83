package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeProvider struct{ name string }

func (f fakeProvider) Name() string                { return f.name }
func (f fakeProvider) ValidateConfig(Config) error { return nil }
func (f fakeProvider) ExtractText(context.Context, Config, string, string) (string, UsageInfo, error) {
	return "", UsageInfo{}, nil
}

type upperCleaner struct{ fakeProvider }

func (upperCleaner) CleanResponse(s string) string { return strings.ToUpper(s) }

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no cleaning needed", "AB12", "AB12"},
		{"image prefix", "The text in the image is: AB12", "AB12"},
		{"captcha prefix", "The CAPTCHA is: K7PX", "K7PX"},
		{"chinese prefix", "驗證碼：K7PX", "K7PX"},
		{"quotes", `"K7PX"`, "K7PX"},
		{"code block", "```\nK7PX\n```", "K7PX"},
		{"whitespace", "   K7PX  ", "K7PX"},
		{"corner brackets", "「K7PX」", "K7PX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanResponse(tt.input); got != tt.want {
				t.Errorf("CleanResponse(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestProcessResponse(t *testing.T) {
	if got := ProcessResponse(fakeProvider{"plain"}, ` "ab12" `); got != "ab12" {
		t.Errorf("default cleaner = %q", got)
	}
	if got := ProcessResponse(upperCleaner{fakeProvider{"custom"}}, "ab12"); got != "AB12" {
		t.Errorf("custom cleaner = %q", got)
	}
}

func TestTruncateBody(t *testing.T) {
	long := []byte(strings.Repeat("x", 600))
	if got := TruncateBody(long); !strings.HasSuffix(got, "... (truncated)") || len(got) != 500+len("... (truncated)") {
		t.Errorf("TruncateBody() len = %d", len(got))
	}
	if got := TruncateBody([]byte("short"), 10); got != "short" {
		t.Errorf("TruncateBody(short) = %q", got)
	}
	if got := TruncateBody([]byte("abcdef"), 3); got != "abc... (truncated)" {
		t.Errorf("TruncateBody(custom limit) = %q", got)
	}
}

func TestMimeType(t *testing.T) {
	if got := MimeType("captcha.png"); got != "image/png" {
		t.Errorf("MimeType(png) = %q", got)
	}
	if got := MimeType("no-extension"); got != "image/jpeg" {
		t.Errorf("MimeType(none) = %q", got)
	}
}

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" || r.Header.Get("X-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	body, err := PostJSON(context.Background(), server.Client(), "test", server.URL, map[string]string{"X-Key": "secret"}, map[string]int{"a": 1}, http.StatusOK)
	if err != nil || string(body) != `{"ok":true}` {
		t.Fatalf("PostJSON() = %q, %v", body, err)
	}

	_, err = PostJSON(context.Background(), server.Client(), "test", server.URL, nil, map[string]int{"a": 1}, http.StatusOK)
	if err == nil || !strings.Contains(err.Error(), "test API error: 401") {
		t.Errorf("PostJSON() error = %v", err)
	}
}

func TestTimeout(t *testing.T) {
	if got := Timeout(Config{}, time.Minute); got != time.Minute {
		t.Errorf("Timeout(unset) = %v", got)
	}
	if got := Timeout(Config{Timeout: time.Second}, time.Minute); got != time.Second {
		t.Errorf("Timeout(set) = %v", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeProvider{"Gemini"})
	r.Register(fakeProvider{"claude"})

	if !r.HasProvider("GEMINI") {
		t.Error("lookup should be case-insensitive")
	}
	if got := r.List(); !reflect.DeepEqual(got, []string{"claude", "gemini"}) {
		t.Errorf("List() = %v", got)
	}
	if _, err := r.Get("openai"); err == nil || !strings.Contains(err.Error(), "claude, gemini") {
		t.Errorf("Get(missing) error = %v", err)
	}
}
