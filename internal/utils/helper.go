package utils

import (
	"log/slog"
	"os"
	"regexp"
	"strings"
)

type maskRule struct {
	pattern     *regexp.Regexp
	replacement string
}

var maskRules = []maskRule{
	// ?key=, &api_key=, apiKey=, api-key=
	{regexp.MustCompile(`([?&])(api[_\-]?[kK]ey|key)=([^&\s"]+)`), `${1}${2}=***MASKED***`},
	{regexp.MustCompile(`Bearer\s+([A-Za-z0-9_\-\.]+)`), `Bearer ***MASKED***`},
	// Azure
	{regexp.MustCompile(`Ocp-Apim-Subscription-Key:\s*([^\s]+)`), `Ocp-Apim-Subscription-Key: ***MASKED***`},
	// Anthropic and Gemini header forms
	{regexp.MustCompile(`(?i)(x-(?:goog-)?api-key):\s*([^\s]+)`), `${1}: ***MASKED***`},
}

var idNumberPattern = regexp.MustCompile(`\b[A-Z][12]\d{8}\b`)

// MaskSensitiveData masks API keys, tokens and national ID numbers so error
// messages and URLs can be logged.
func MaskSensitiveData(s string) string {
	if s == "" {
		return s
	}
	for _, rule := range maskRules {
		s = rule.pattern.ReplaceAllString(s, rule.replacement)
	}
	return idNumberPattern.ReplaceAllStringFunc(s, MaskIDNumber)
}

// MaskIDNumber keeps the first three and last three characters of an ID
// number: A123456789 becomes A12****789. Shorter values are fully masked.
func MaskIDNumber(id string) string {
	if len(id) < 7 {
		return strings.Repeat("*", len(id))
	}
	return id[:3] + strings.Repeat("*", len(id)-6) + id[len(id)-3:]
}

// MaskSensitiveError wraps an error and masks sensitive data when the error is converted to string
func MaskSensitiveError(err error) error {
	if err == nil {
		return nil
	}
	return &maskedError{err: err}
}

type maskedError struct {
	err error
}

func (e *maskedError) Error() string {
	return MaskSensitiveData(e.err.Error())
}

func (e *maskedError) Unwrap() error {
	return e.err
}

func ExitOnError(msg string, err error) {
	slog.Error(msg, "err", MaskSensitiveError(err))
	os.Exit(1)
}
