package cmd

import (
	"strings"
	"testing"

	"github.com/ionex/idverify/internal/config"
)

func TestNewRecognizer(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		wantErr  string
	}{
		{name: "unknown provider lists the choices", provider: "tesseract", wantErr: `unsupported captcha provider "tesseract" (available: azure, claude, gemini, ollama, openai)`},
		{name: "empty provider", provider: "", wantErr: `unsupported captcha provider ""`},
		{name: "local provider needs no key", provider: "ollama", model: "llava"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Captcha.Provider = tt.provider
			cfg.Captcha.Model = tt.model

			recognizer, err := newRecognizer(cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("newRecognizer() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("newRecognizer() error = %v", err)
			}
			if recognizer.Config.Model != tt.model {
				t.Errorf("model = %q, want %q", recognizer.Config.Model, tt.model)
			}
		})
	}
}
