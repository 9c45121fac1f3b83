package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionex/idverify/internal/verify"
	"github.com/ionex/idverify/pkg/extract"
	"github.com/ionex/idverify/pkg/imaging"
	"github.com/ionex/idverify/pkg/ocr"
)

type stubVerifier struct {
	resp *verify.Response
	err  error

	gotURL       string
	gotPath      string
	gotData      []byte
	gotAutoQuery bool
}

func (v *stubVerifier) VerifyURL(_ context.Context, imageURL string, autoQuery bool) (*verify.Response, error) {
	v.gotURL, v.gotAutoQuery = imageURL, autoQuery
	return v.resp, v.err
}

func (v *stubVerifier) VerifyFile(_ context.Context, path string, autoQuery bool) (*verify.Response, error) {
	v.gotPath, v.gotAutoQuery = path, autoQuery
	v.gotData, _ = os.ReadFile(path)
	return v.resp, v.err
}

type stubStatus struct{}

func (stubStatus) Status() ocr.Status { return ocr.Status{Engine: "PaddleOCR", IsInitialized: true} }

func okResponse() *verify.Response {
	id := "A123456789"
	return &verify.Response{
		Success:      true,
		DocumentType: extract.DocumentIDCard,
		Data:         extract.IDCard{IDNumber: &id},
		Message:      verify.MessageSuccess,
		Confidence:   90,
	}
}

func newTestServer(t *testing.T, v Verifier) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	s := New(v, stubStatus{}, Options{
		TempDir: dir,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("idverify_query_attempts_total 0\n"))
		}),
	})
	s.now = func() time.Time { return time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC) }
	return s, dir
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthAndStatus(t *testing.T) {
	s, _ := newTestServer(t, &stubVerifier{})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "ok", "timestamp": "2026-10-18T08:00:00Z"}, decode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.Equal(t, map[string]any{"engine": "PaddleOCR", "isInitialized": true}, body["ocr"])
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t, &stubVerifier{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "idverify_query_attempts_total")
}

func TestVerifyURL(t *testing.T) {
	v := &stubVerifier{resp: okResponse()}
	s, _ := newTestServer(t, v)

	req := httptest.NewRequest(http.MethodPost, "/api/verify/url",
		strings.NewReader(`{"imageUrl":"https://example.com/card.jpg","autoQuery":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "https://example.com/card.jpg", v.gotURL)
	assert.True(t, v.gotAutoQuery)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "id_card", body["documentType"])
	assert.Equal(t, verify.MessageSuccess, body["message"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "A123456789", data["idNumber"])
	assert.Nil(t, data["name"], "absent fields serialize as null")
}

func TestVerifyURLValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "missing imageUrl", body: `{}`, wantMsg: "imageUrl"},
		{name: "not a URL", body: `{"imageUrl":"card.jpg"}`, wantMsg: "imageUrl"},
		{name: "unsupported scheme", body: `{"imageUrl":"ftp://example.com/card.jpg"}`, wantMsg: "imageUrl"},
		{name: "wrong autoQuery type", body: `{"imageUrl":"https://example.com/a.jpg","autoQuery":"yes"}`, wantMsg: "autoQuery"},
		{name: "unknown field", body: `{"imageUrl":"https://example.com/a.jpg","extra":1}`, wantMsg: "請求格式錯誤"},
		{name: "malformed JSON", body: `{"imageUrl":`, wantMsg: "請求格式錯誤"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &stubVerifier{resp: okResponse()}
			s, _ := newTestServer(t, v)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/verify/url", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["message"], tt.wantMsg)
			assert.Empty(t, v.gotURL, "invalid requests never reach the pipeline")
		})
	}
}

func TestVerifyErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "bad image", err: errors.Join(verify.ErrInvalidImage, imaging.ErrTooSmall), wantCode: http.StatusBadRequest},
		{name: "engine failure", err: errors.New("paddle OCR error: 500 - boom"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &stubVerifier{err: tt.err})

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/verify/url",
				strings.NewReader(`{"imageUrl":"https://example.com/card.jpg"}`)))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, false, decode(t, rec)["success"])
		})
	}
}

func multipartBody(t *testing.T, field string, data []byte, autoQuery string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, "card.png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	if autoQuery != "" {
		require.NoError(t, mw.WriteField("autoQuery", autoQuery))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestVerifyUpload(t *testing.T) {
	v := &stubVerifier{resp: okResponse()}
	s, dir := newTestServer(t, v)

	body, contentType := multipartBody(t, "image", []byte("fake image bytes"), "true")
	req := httptest.NewRequest(http.MethodPost, "/api/verify/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []byte("fake image bytes"), v.gotData)
	assert.True(t, strings.HasSuffix(v.gotPath, ".png"))
	assert.True(t, v.gotAutoQuery)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "uploads are removed after processing")
}

func TestVerifyUploadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		s, _ := newTestServer(t, &stubVerifier{resp: okResponse()})
		body, contentType := multipartBody(t, "", nil, "false")
		req := httptest.NewRequest(http.MethodPost, "/api/verify/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		v := &stubVerifier{resp: okResponse()}
		s, _ := newTestServer(t, v)
		body, contentType := multipartBody(t, "image", make([]byte, imaging.MaxImageBytes+formOverhead+1), "")
		req := httptest.NewRequest(http.MethodPost, "/api/verify/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Empty(t, v.gotPath)
	})

	t.Run("not multipart", func(t *testing.T) {
		s, _ := newTestServer(t, &stubVerifier{resp: okResponse()})
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/verify/upload", strings.NewReader("x")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, &stubVerifier{})

	req := httptest.NewRequest(http.MethodOptions, "/api/verify/url", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t, &stubVerifier{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
