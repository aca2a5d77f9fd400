package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"

	"edu-data-console/internal/logger"
	"edu-data-console/internal/objectstore"
)

var (
	ErrNoURL          = errors.New("chunk has no url")
	ErrForeignBucket  = errors.New("chunk url points at another bucket")
	ErrNotConvertible = errors.New("chunk cannot be rendered as text")
)

// Extensions a browser can show without conversion.
var inlineExts = map[string]bool{
	"pdf": true, "png": true, "jpg": true, "jpeg": true, "webp": true, "gif": true,
	"mp4": true, "webm": true, "ogg": true,
}

const maxPreviewBytes = 200 << 20

// Objects is the slice of *objectstore.Service the preview needs.
type Objects interface {
	Bucket() string
	URL(key string) string
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Converter turns an office file into a PDF inside outDir and returns its path.
type Converter interface {
	ToPDF(ctx context.Context, input, outDir string) (string, error)
}

// SofficeConverter shells out to LibreOffice.
type SofficeConverter struct {
	Path string

	mu sync.Mutex
}

func (c *SofficeConverter) ToPDF(ctx context.Context, input, outDir string) (string, error) {
	bin := strings.TrimSpace(c.Path)
	if bin == "" {
		bin = "soffice"
	}

	// one profile directory per user; soffice refuses concurrent runs on it
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := exec.CommandContext(ctx, bin,
		"--headless", "--nologo", "--nofirststartwizard",
		"--convert-to", "pdf", "--outdir", outDir, input)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("libreoffice not found (set SOFFICE_PATH): %w", err)
		}
		return "", fmt.Errorf("libreoffice convert failed: %v: %s", err, strings.TrimSpace(string(out)))
	}

	want := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))+".pdf")
	if _, err := os.Stat(want); err == nil {
		return want, nil
	}
	matches, _ := filepath.Glob(filepath.Join(outDir, "*.pdf"))
	if len(matches) == 0 {
		return "", errors.New("libreoffice produced no pdf")
	}
	return matches[0], nil
}

type ViewResult struct {
	ViewURL     string `json:"viewUrl"`
	OriginalURL string `json:"originalUrl"`
	Ext         string `json:"ext"`
}

type TextResult struct {
	ChunkID string   `json:"chunkID"`
	Pages   int      `json:"pages"`
	Text    []string `json:"text"`
}

type PreviewService struct {
	objects   Objects
	converter Converter
}

func NewPreviewService(objects Objects, converter Converter) *PreviewService {
	return &PreviewService{objects: objects, converter: converter}
}

// PreviewKey is where the converted PDF of an office chunk is cached: under
// the first folder of the original key.
func PreviewKey(originalKey, chunkID string) string {
	folder := "preview"
	for _, p := range strings.Split(originalKey, "/") {
		if p != "" {
			folder = p
			break
		}
	}
	return folder + "/previews/" + chunkID + ".pdf"
}

func (s *PreviewService) resolve(chunkURL string) (string, error) {
	if strings.TrimSpace(chunkURL) == "" {
		return "", ErrNoURL
	}
	bucket, key, err := objectstore.ParsePublicURL(chunkURL)
	if err != nil {
		return "", err
	}
	if bucket != s.objects.Bucket() {
		return "", fmt.Errorf("%w: %s", ErrForeignBucket, bucket)
	}
	return key, nil
}

// ViewURL returns a URL the browser can display for the chunk. Office files
// are converted to PDF once and served from the cache afterwards.
func (s *PreviewService) ViewURL(ctx context.Context, chunkID, chunkURL string) (*ViewResult, error) {
	if strings.TrimSpace(chunkURL) == "" {
		return nil, ErrNoURL
	}
	_, rawKey, err := objectstore.ParsePublicURL(chunkURL)
	if err != nil {
		return nil, err
	}
	ext := objectstore.Ext(rawKey)
	if inlineExts[ext] {
		return &ViewResult{ViewURL: chunkURL, OriginalURL: chunkURL, Ext: ext}, nil
	}

	key, err := s.resolve(chunkURL)
	if err != nil {
		return nil, err
	}
	previewKey, err := s.ensurePreview(ctx, chunkID, key, ext)
	if err != nil {
		return nil, err
	}
	return &ViewResult{ViewURL: s.objects.URL(previewKey), OriginalURL: chunkURL, Ext: "pdf"}, nil
}

func (s *PreviewService) ensurePreview(ctx context.Context, chunkID, key, ext string) (string, error) {
	previewKey := PreviewKey(key, chunkID)
	ok, err := s.objects.Exists(ctx, previewKey)
	if err != nil {
		return "", err
	}
	if ok {
		return previewKey, nil
	}
	if s.converter == nil {
		return "", errors.New("no document converter configured")
	}

	dir, err := os.MkdirTemp("", "preview-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if ext == "" {
		ext = "bin"
	}
	input := filepath.Join(dir, chunkID+"."+ext)
	if err := s.download(ctx, key, input); err != nil {
		return "", err
	}

	pdfPath, err := s.converter.ToPDF(ctx, input, dir)
	if err != nil {
		return "", err
	}
	f, err := os.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("open converted pdf: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if err := s.objects.Put(ctx, previewKey, f, info.Size(), "application/pdf"); err != nil {
		return "", fmt.Errorf("store preview: %w", err)
	}
	logger.Info("preview generated", "chunk_id", chunkID, "source", key, "preview", previewKey)
	return previewKey, nil
}

func (s *PreviewService) download(ctx context.Context, key, dest string) error {
	body, err := s.objects.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, io.LimitReader(body, maxPreviewBytes)); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

// Text extracts plain text per page from a PDF chunk, or from the converted
// preview of an office chunk. maxPages <= 0 reads every page.
func (s *PreviewService) Text(ctx context.Context, chunkID, chunkURL string, maxPages int) (*TextResult, error) {
	key, err := s.resolve(chunkURL)
	if err != nil {
		return nil, err
	}
	ext := objectstore.Ext(key)
	switch {
	case ext == "pdf":
	case inlineExts[ext]:
		return nil, fmt.Errorf("%w: %s", ErrNotConvertible, ext)
	default:
		if key, err = s.ensurePreview(ctx, chunkID, key, ext); err != nil {
			return nil, err
		}
	}

	body, err := s.objects.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	raw, err := io.ReadAll(io.LimitReader(body, maxPreviewBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	pages, err := PDFText(raw, maxPages)
	if err != nil {
		return nil, err
	}
	return &TextResult{ChunkID: chunkID, Pages: len(pages), Text: pages}, nil
}

// PDFText returns the plain text of up to maxPages pages.
func PDFText(raw []byte, maxPages int) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConvertible, err)
	}
	n := r.NumPage()
	if maxPages > 0 && maxPages < n {
		n = maxPages
	}
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			out = append(out, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		out = append(out, strings.TrimSpace(text))
	}
	return out, nil
}
