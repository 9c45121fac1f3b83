// Package server exposes the verification pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ionex/idverify/internal/utils"
	"github.com/ionex/idverify/internal/verify"
	"github.com/ionex/idverify/pkg/imaging"
	"github.com/ionex/idverify/pkg/ocr"
)

const (
	Version = "1.0.0"

	// multipart overhead allowed on top of the image itself
	formOverhead = 1 << 20
	shutdownWait = 10 * time.Second
)

// Verifier runs the pipeline; *verify.Service implements it.
type Verifier interface {
	VerifyURL(ctx context.Context, imageURL string, autoQuery bool) (*verify.Response, error)
	VerifyFile(ctx context.Context, path string, autoQuery bool) (*verify.Response, error)
}

// StatusReporter reports on the OCR engine; every ocr.Engine implements it.
type StatusReporter interface {
	Status() ocr.Status
}

type Options struct {
	// TempDir receives uploaded images until they are processed.
	TempDir string
	// AllowedOrigins for CORS; nil or "*" allows any origin.
	AllowedOrigins []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

type Server struct {
	verifier Verifier
	status   StatusReporter
	opts     Options
	now      func() time.Time
}

func New(verifier Verifier, status StatusReporter, opts Options) *Server {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Server{
		verifier: verifier,
		status:   status,
		opts:     opts,
		now:      time.Now,
	}
}

// Handler returns the router wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(requestLogger)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/verify/url", s.handleVerifyURL).Methods(http.MethodPost)
	api.HandleFunc("/verify/upload", s.handleVerifyUpload).Methods(http.MethodPost)

	if s.opts.Metrics != nil {
		router.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Request-ID",
		},
		ExposedHeaders: []string{
			"X-Request-ID",
		},
		MaxAge: 300,
	})

	return c.Handler(router)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("Server exited")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

type statusResponse struct {
	Success bool       `json:"success"`
	Status  string     `json:"status"`
	OCR     ocr.Status `json:"ocr"`
	Version string     `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Success: true,
		Status:  "running",
		OCR:     s.status.Status(),
		Version: Version,
	})
}

type verifyURLRequest struct {
	ImageURL  string `json:"imageUrl"`
	AutoQuery bool   `json:"autoQuery"`
}

func (s *Server) handleVerifyURL(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "無法讀取請求內容")
		return
	}
	if err := validateVerifyURL(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req verifyURLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "請求格式錯誤")
		return
	}

	resp, err := s.verifier.VerifyURL(r.Context(), req.ImageURL, req.AutoQuery)
	s.respond(w, resp, err)
}

func (s *Server) handleVerifyUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxImageBytes+formOverhead)
	if err := r.ParseMultipartForm(imaging.MaxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "檔案過大，上限 10MB")
			return
		}
		writeError(w, http.StatusBadRequest, "無法解析上傳內容")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "請上傳圖片檔案 (欄位 image)")
		return
	}
	defer file.Close()

	if header.Size > imaging.MaxImageBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "檔案過大，上限 10MB")
		return
	}

	path, err := s.saveUpload(file, filepath.Ext(header.Filename))
	if err != nil {
		slog.Error("Failed to save upload", "err", err)
		writeError(w, http.StatusInternalServerError, "無法儲存上傳檔案")
		return
	}
	defer imaging.Cleanup(path)

	autoQuery, _ := strconv.ParseBool(r.FormValue("autoQuery"))
	resp, err := s.verifier.VerifyFile(r.Context(), path, autoQuery)
	s.respond(w, resp, err)
}

func (s *Server) saveUpload(src io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(s.opts.TempDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.opts.TempDir, "upload_"+uuid.NewString()+ext)
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		imaging.Cleanup(path)
		return "", err
	}
	return path, out.Close()
}

func (s *Server) respond(w http.ResponseWriter, resp *verify.Response, err error) {
	if err != nil {
		if errors.Is(err, verify.ErrInvalidImage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Verification failed", "err", utils.MaskSensitiveError(err))
		writeError(w, http.StatusInternalServerError, utils.MaskSensitiveData(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "err", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		slog.Info("HTTP request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
