// Package imaging fetches, checks and prepares card images before OCR.
// Preprocessing shells out to ImageMagick.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/ionex/idverify/pkg/ocr"
)

const (
	// MaxImageBytes caps downloads and uploads.
	MaxImageBytes = 10 << 20
	// MinDimension is the smallest accepted width and height in pixels.
	MinDimension = 100

	downloadTimeout = 30 * time.Second
	userAgent       = "Ionex-ID-Verify/1.0"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format, only JPG, PNG and WEBP are accepted")
	ErrTooSmall          = fmt.Errorf("image too small, at least %dx%d pixels required", MinDimension, MinDimension)
	ErrTooLarge          = fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	ErrUnsupportedScheme = errors.New("only http and https URLs are supported")
)

// Info describes a decoded image header.
type Info struct {
	Format string
	Width  int
	Height int
	Size   int64
}

// Processor owns the temporary directory images are written to.
type Processor struct {
	TempDir    string
	HTTPClient *http.Client
	// Magick is the ImageMagick binary, "magick" when empty.
	Magick string
}

func NewProcessor(tempDir string) *Processor {
	return &Processor{
		TempDir:    tempDir,
		HTTPClient: &http.Client{Timeout: downloadTimeout},
		Magick:     "magick",
	}
}

// TempPath returns a fresh path in the temp directory with the given suffix.
func (p *Processor) TempPath(prefix, ext string) string {
	return filepath.Join(p.TempDir, prefix+uuid.NewString()+ext)
}

// Download fetches an image over http or https into the temp directory.
func (p *Processor) Download(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid image url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrUnsupportedScheme
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}
	if resp.ContentLength > MaxImageBytes {
		return "", ErrTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if len(body) > MaxImageBytes {
		return "", ErrTooLarge
	}

	if err := os.MkdirAll(p.TempDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	path := p.TempPath("", ".img")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}

	slog.Debug("Downloaded image", "path", path, "bytes", len(body))
	return path, nil
}

// Validate checks that the file is a JPEG, PNG or WEBP of at least
// MinDimension pixels on each side.
func Validate(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return Info{}, ErrUnsupportedFormat
		}
		return Info{}, fmt.Errorf("failed to read image header: %w", err)
	}

	info := Info{Format: format, Width: cfg.Width, Height: cfg.Height}
	if st, err := f.Stat(); err == nil {
		info.Size = st.Size()
	}

	switch format {
	case "jpeg", "png", "webp":
	default:
		return info, ErrUnsupportedFormat
	}
	if cfg.Width < MinDimension || cfg.Height < MinDimension {
		return info, ErrTooSmall
	}
	return info, nil
}

// Preprocess writes a copy of the image prepared for the given profile and
// returns its path.
func (p *Processor) Preprocess(ctx context.Context, imagePath string, profile ocr.Profile) (string, error) {
	ext := ".jpg"
	if profile == ocr.ProfileGrayscale {
		ext = ".png"
	}
	outputPath := p.TempPath("processed_", ext)

	bin := p.Magick
	if bin == "" {
		bin = "magick"
	}
	args := append([]string{imagePath}, ProfileArgs(profile)...)
	args = append(args, outputPath)

	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("imagemagick preprocessing failed: %w: %s", err, out)
	}

	slog.Debug("Preprocessed image", "profile", profile, "path", outputPath)
	return outputPath, nil
}

// ProfileArgs returns the ImageMagick operators for a profile.
func ProfileArgs(profile ocr.Profile) []string {
	if profile == ocr.ProfileGrayscale {
		return []string{
			"-auto-orient",
			"-resize", "3000x3000",
			"-median", "3",
			"-normalize",
			"-sharpen", "0x1.5",
			"-colorspace", "Gray",
			"-brightness-contrast", "0x20",
			"-threshold", "50%",
		}
	}
	return []string{
		"-auto-orient",
		"-resize", "2000x2000",
		"-median", "2",
		"-contrast-stretch", "5%x5%",
		"-sharpen", "0x1.0",
		"-quality", "95",
	}
}

// Cleanup removes the given files, ignoring empty paths and files that are
// already gone.
func Cleanup(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove temp file", "path", path, "err", err)
		}
	}
}
