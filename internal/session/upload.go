package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/analysisapi"
)

const (
	DefaultMaxUploadBytes int64 = 10 << 20
	pdfContentType              = "application/pdf"
)

// File is a local document offered for upload.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// OpenFile opens path for upload. The content type comes from the extension,
// falling back to content sniffing. Close the returned file when done.
func OpenFile(path string) (File, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return File{}, nil, fmt.Errorf("stat %s: %w", path, err)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		contentType = http.DetectContentType(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			_ = f.Close()
			return File{}, nil, fmt.Errorf("rewind %s: %w", path, err)
		}
	}

	return File{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Body:        f,
	}, f, nil
}

type Uploader interface {
	Upload(ctx context.Context, filename string, body io.Reader) (*analysisapi.IngestResponse, error)
}

type UploadController struct {
	api       Uploader
	lifecycle *Lifecycle
	maxBytes  int64
	logger    *slog.Logger
}

func NewUploadController(api Uploader, lifecycle *Lifecycle, maxBytes int64, logger *slog.Logger) *UploadController {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadController{api: api, lifecycle: lifecycle, maxBytes: maxBytes, logger: logger}
}

// Validate checks the file against the upload constraints without any I/O.
func (c *UploadController) Validate(file File) error {
	mediaType, _, err := mime.ParseMediaType(file.ContentType)
	if err != nil || mediaType != pdfContentType {
		return &ValidationError{Field: "type", Reason: "Please upload a PDF file"}
	}
	if file.Size > c.maxBytes {
		return &ValidationError{
			Field:  "size",
			Reason: fmt.Sprintf("File size must be less than %d MB", c.maxBytes>>20),
		}
	}
	if file.Size <= 0 || file.Body == nil {
		return &ValidationError{Field: "size", Reason: "File is empty"}
	}
	return nil
}

// Submit validates and uploads file with exactly one request. On success the
// lifecycle tracks the new document in the analyzing phase.
func (c *UploadController) Submit(ctx context.Context, file File) (*domain.Document, error) {
	if err := c.Validate(file); err != nil {
		return nil, err
	}
	if !c.lifecycle.beginUpload() {
		return nil, ErrUploadInFlight
	}

	resp, err := c.api.Upload(ctx, file.Name, io.LimitReader(file.Body, c.maxBytes+1))
	if err != nil {
		uploadErr := &UploadError{Filename: file.Name, Err: err}
		c.lifecycle.uploadFailed(uploadErr)
		c.logger.Warn("upload_failed", "filename", file.Name, "error", err)
		return nil, uploadErr
	}

	status, ok := domain.ParseAnalysisStatus(resp.AnalysisStatus)
	if !ok {
		c.logger.Warn("unexpected_status", "document_id", resp.DocumentID, "status", resp.AnalysisStatus)
		status = domain.StatusPending
	}
	filename := resp.Filename
	if filename == "" {
		filename = file.Name
	}
	doc := domain.Document{
		ID:         resp.DocumentID,
		Filename:   filename,
		TotalPages: resp.TotalPages,
		Status:     status,
	}
	c.lifecycle.track(doc)
	c.logger.Info("upload_completed", "document_id", doc.ID, "filename", doc.Filename, "total_pages", doc.TotalPages)
	return &doc, nil
}
