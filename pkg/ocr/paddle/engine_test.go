package paddle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ionex/idverify/pkg/ocr"
)

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "card.jpg")
	if err := os.WriteFile(path, []byte("fake image"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRecognize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		decoded, _ := base64.StdEncoding.DecodeString(req.File)
		if string(decoded) != "fake image" || req.FileType != 1 {
			t.Errorf("unexpected request %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"errorCode": 0,
			"errorMsg": "Success",
			"result": {"ocrResults": [{"prunedResult": {
				"rec_texts": ["姓名王小明", "A123456789"],
				"rec_scores": [0.9, 0.8],
				"rec_boxes": [[10, 10, 150, 40], [10, 80, 300, 110]]
			}}]}
		}`))
	}))
	defer server.Close()

	e := New(server.URL)
	if e.Status().IsInitialized {
		t.Error("engine should report uninitialized before the first call")
	}

	got, err := e.Recognize(context.Background(), writeImage(t))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}

	if got.Text != "姓名王小明\nA123456789" {
		t.Errorf("Text = %q", got.Text)
	}
	if c := got.Confidence; c < 84.99 || c > 85.01 {
		t.Errorf("Confidence = %v, want 85", c)
	}
	if len(got.Words) != 2 || got.Words[1].BBox != (ocr.BBox{X0: 10, Y0: 80, X1: 300, Y1: 110}) {
		t.Errorf("Words = %+v", got.Words)
	}
	if len(got.Lines) != 2 {
		t.Errorf("expected 2 lines, got %d", len(got.Lines))
	}
	if !e.Status().IsInitialized {
		t.Error("engine should report initialized after a call")
	}
}

func TestRecognizeErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "http error", status: http.StatusInternalServerError, body: "boom", wantErr: "500"},
		{name: "pipeline error", status: http.StatusOK, body: `{"errorCode": 1001, "errorMsg": "bad image"}`, wantErr: "bad image"},
		{name: "invalid json", status: http.StatusOK, body: `not json`, wantErr: "failed to parse JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := New(server.URL).Recognize(context.Background(), writeImage(t))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Recognize() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestToResultEmpty(t *testing.T) {
	got := toResult(Response{})
	if got.Text != "" || got.Confidence != 0 {
		t.Errorf("toResult(empty) = %+v", got)
	}
	if got.Words == nil || got.Lines == nil {
		t.Error("words and lines should be empty slices")
	}
}

func TestDefaults(t *testing.T) {
	e := New("")
	if e.URL != DefaultURL {
		t.Errorf("URL = %q, want %q", e.URL, DefaultURL)
	}
	if e.Name() != "paddle" || e.Profile() != ocr.ProfileColor {
		t.Errorf("Name/Profile = %q/%q", e.Name(), e.Profile())
	}
}
