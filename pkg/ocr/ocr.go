// Package ocr defines the contract shared by the OCR backends: the result
// shape the field extractor consumes and a registry to select an engine.
package ocr

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// BBox is an axis-aligned box in image pixels.
type BBox struct {
	X0 int `json:"x0" yaml:"x0"`
	Y0 int `json:"y0" yaml:"y0"`
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
}

func (b BBox) Width() int  { return b.X1 - b.X0 }
func (b BBox) Height() int { return b.Y1 - b.Y0 }

// Word is a recognized token with its confidence (0-100) and position.
type Word struct {
	Text       string  `json:"text" yaml:"text"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	BBox       BBox    `json:"bbox" yaml:"bbox"`
}

// Line has the same shape as Word and spans one visual text line.
type Line = Word

// Result is the output of one recognition call.
type Result struct {
	Text       string  `json:"text" yaml:"text"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Words      []Word  `json:"words" yaml:"words"`
	Lines      []Line  `json:"lines" yaml:"lines"`
}

// Profile names the image preprocessing an engine reads best.
type Profile string

const (
	// ProfileGrayscale binarizes the image. Suited to Tesseract.
	ProfileGrayscale Profile = "grayscale"
	// ProfileColor keeps color and only lightly cleans the image.
	ProfileColor Profile = "color"
)

// Engine is implemented by every OCR backend.
type Engine interface {
	// Name returns the engine's configuration name
	Name() string
	// Profile reports which preprocessing the engine expects
	Profile() Profile
	// Recognize reads the text in the image at imagePath
	Recognize(ctx context.Context, imagePath string) (Result, error)
	// Status reports whether the engine's client has been created
	Status() Status
	// Close releases any client the engine holds
	Close() error
}

// Status describes the active engine.
type Status struct {
	Engine        string `json:"engine"`
	IsInitialized bool   `json:"isInitialized"`
}

// Registry holds the engines available to the process.
type Registry struct {
	engines map[string]Engine
}

func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Engine),
	}
}

func (r *Registry) Register(engine Engine) {
	r.engines[strings.ToLower(engine.Name())] = engine
}

func (r *Registry) Get(name string) (Engine, error) {
	engine, exists := r.engines[strings.ToLower(name)]
	if !exists {
		return nil, fmt.Errorf("ocr engine %s not found", name)
	}
	return engine, nil
}

// List returns the registered engine names in sorted order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every registered engine and returns the first error.
func (r *Registry) Close() error {
	var first error
	for _, name := range r.List() {
		if err := r.engines[name].Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", name, err)
		}
	}
	return first
}

// AverageConfidence is the mean confidence of words, or 0 when there are none.
func AverageConfidence(words []Word) float64 {
	if len(words) == 0 {
		return 0
	}
	total := 0.0
	for _, w := range words {
		total += w.Confidence
	}
	return total / float64(len(words))
}
