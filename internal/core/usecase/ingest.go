package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
	"github.com/kirillkom/legal-doc-analyzer/internal/core/ports"
)

// acceptedMimeTypes maps the upload formats the pipeline can extract. The
// declared MIME type decides the parser; extensions are a fallback for
// clients that send application/octet-stream.
var acceptedMimeTypes = map[string]struct{}{
	"application/pdf": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"text/plain": {},
}

var acceptedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
}

type IngestDocumentUseCase struct {
	docs     ports.DocumentRepository
	storage  ports.ObjectStorage
	maxBytes int64
}

func NewIngestDocumentUseCase(docs ports.DocumentRepository, storage ports.ObjectStorage, maxBytes int64) *IngestDocumentUseCase {
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return &IngestDocumentUseCase{
		docs:     docs,
		storage:  storage,
		maxBytes: maxBytes,
	}
}

func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
) (*domain.Document, error) {
	mimeType, err := resolveMimeType(filename, mimeType)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	counted := &countingReader{inner: io.LimitReader(body, uc.maxBytes+1)}
	if err := uc.storage.Save(ctx, storageKey, counted); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}
	if counted.n > uc.maxBytes {
		uc.discardBlob(ctx, storageKey)
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload",
			fmt.Errorf("document exceeds %d bytes", uc.maxBytes))
	}

	doc := &domain.Document{
		ID:         id,
		Filename:   filename,
		MimeType:   mimeType,
		SizeBytes:  counted.n,
		StorageKey: storageKey,
		Status:     domain.StatusUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := uc.docs.Create(ctx, doc); err != nil {
		uc.discardBlob(ctx, storageKey)
		return nil, fmt.Errorf("create document metadata: %w", err)
	}
	return doc, nil
}

// discardBlob removes a blob whose upload was rejected after the save. Best
// effort; a leftover blob is unreachable without a document row anyway.
func (uc *IngestDocumentUseCase) discardBlob(ctx context.Context, storageKey string) {
	if err := uc.storage.Delete(ctx, storageKey); err != nil {
		slog.Warn("discard_rejected_upload", "storage_key", storageKey, "error", err)
	}
}

func resolveMimeType(filename, declared string) (string, error) {
	mime := strings.ToLower(strings.TrimSpace(declared))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if _, ok := acceptedMimeTypes[mime]; ok {
		return mime, nil
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if resolved, ok := acceptedExtensions[ext]; ok && (mime == "" || mime == "application/octet-stream") {
		return resolved, nil
	}
	return "", domain.WrapError(domain.ErrUnsupportedFormat, "upload",
		fmt.Errorf("mime type %q (filename %q)", declared, filename))
}

type countingReader struct {
	inner io.Reader
	n     int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	r.n += int64(n)
	return n, err
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}
