// Package googlevision reads card text with the Google Cloud Vision text
// detection API.
package googlevision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/ionex/idverify/pkg/ocr"
)

// Engine holds a lazily created ImageAnnotatorClient.
type Engine struct {
	// CredentialsFile is a service account key. When empty the client uses
	// application default credentials.
	CredentialsFile string

	mu     sync.Mutex
	client *vision.ImageAnnotatorClient
}

func New(credentialsFile string) *Engine {
	return &Engine{CredentialsFile: credentialsFile}
}

func (e *Engine) Name() string { return "google" }

func (e *Engine) Profile() ocr.Profile { return ocr.ProfileColor }

func (e *Engine) Status() ocr.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ocr.Status{Engine: "Google Cloud Vision API", IsInitialized: e.client != nil}
}

func (e *Engine) getClient(ctx context.Context) (*vision.ImageAnnotatorClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}

	var opts []option.ClientOption
	if e.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(e.CredentialsFile))
	} else {
		slog.Warn("GOOGLE_APPLICATION_CREDENTIALS not set, using default credentials")
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	e.client = client
	slog.Info("Google Cloud Vision client initialized")
	return client, nil
}

func (e *Engine) Recognize(ctx context.Context, imagePath string) (ocr.Result, error) {
	content, err := os.ReadFile(imagePath)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("failed to read image: %w", err)
	}

	client, err := e.getClient(ctx)
	if err != nil {
		return ocr.Result{}, err
	}

	resp, err := client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image:    &visionpb.Image{Content: content},
				Features: []*visionpb.Feature{{Type: visionpb.Feature_TEXT_DETECTION}},
			},
		},
	})
	if err != nil {
		return ocr.Result{}, fmt.Errorf("vision text detection failed: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return ocr.Result{}, nil
	}

	annotated := resp.GetResponses()[0]
	if st := annotated.GetError(); st != nil && st.GetCode() != 0 {
		return ocr.Result{}, fmt.Errorf("vision API error %d: %s", st.GetCode(), st.GetMessage())
	}

	result := fromAnnotations(annotated.GetTextAnnotations())
	slog.Debug("Google Vision recognized text", "chars", len(result.Text), "words", len(result.Words), "confidence", result.Confidence)
	return result, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

// fromAnnotations converts text annotations into a Result. The first
// annotation is the full text; the rest are words. The API reports
// confidences in [0,1] and they are scaled to [0,100].
func fromAnnotations(annotations []*visionpb.EntityAnnotation) ocr.Result {
	if len(annotations) == 0 {
		return ocr.Result{Words: []ocr.Word{}, Lines: []ocr.Line{}}
	}

	words := make([]ocr.Word, 0, len(annotations)-1)
	total := 0.0
	for _, a := range annotations[1:] {
		conf := float64(a.GetConfidence()) * 100
		total += conf
		words = append(words, ocr.Word{
			Text:       a.GetDescription(),
			Confidence: conf,
			BBox:       boxFromPoly(a.GetBoundingPoly()),
		})
	}

	confidence := 0.0
	if len(words) > 0 {
		confidence = total / float64(len(words))
	}

	return ocr.Result{
		Text:       annotations[0].GetDescription(),
		Confidence: confidence,
		Words:      words,
		Lines:      ocr.GroupWordsIntoLines(words),
	}
}

// boxFromPoly takes the top-left and bottom-right vertices of a polygon.
func boxFromPoly(poly *visionpb.BoundingPoly) ocr.BBox {
	vs := poly.GetVertices()
	if len(vs) < 3 {
		return ocr.BBox{}
	}
	return ocr.BBox{
		X0: int(vs[0].GetX()),
		Y0: int(vs[0].GetY()),
		X1: int(vs[2].GetX()),
		Y1: int(vs[2].GetY()),
	}
}
