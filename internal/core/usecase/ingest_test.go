package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

type ingestDocsFake struct {
	created *domain.Document
	err     error
}

func (f *ingestDocsFake) Create(_ context.Context, doc *domain.Document) error {
	if f.err != nil {
		return f.err
	}
	copyDoc := *doc
	f.created = &copyDoc
	return nil
}

func (f *ingestDocsFake) GetByID(context.Context, string) (*domain.Document, error) {
	return nil, domain.ErrDocumentNotFound
}

func (f *ingestDocsFake) UpdateStatus(context.Context, string, domain.DocumentStatus, string) error {
	return nil
}

type ingestStorageFake struct {
	savedKey    string
	savedBody   string
	deletedKeys []string
	err         error
}

func (f *ingestStorageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *ingestStorageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *ingestStorageFake) Delete(_ context.Context, key string) error {
	f.deletedKeys = append(f.deletedKeys, key)
	return nil
}

func TestIngestUploadSuccess(t *testing.T) {
	docs := &ingestDocsFake{}
	storage := &ingestStorageFake{}
	uc := NewIngestDocumentUseCase(docs, storage, 1<<20)

	doc, err := uc.Upload(context.Background(), "master services agreement.pdf", "application/pdf", bytes.NewBufferString("%PDF-1.7 data"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.ID == "" {
		t.Fatalf("expected document id")
	}
	if doc.Status != domain.StatusUploaded {
		t.Fatalf("expected status uploaded, got %s", doc.Status)
	}
	if doc.SizeBytes != int64(len("%PDF-1.7 data")) {
		t.Fatalf("expected size %d, got %d", len("%PDF-1.7 data"), doc.SizeBytes)
	}
	if docs.created == nil {
		t.Fatalf("expected docs.Create call")
	}
	if !strings.Contains(storage.savedKey, "_master_services_agreement.pdf") {
		t.Fatalf("expected sanitized key suffix, got %s", storage.savedKey)
	}
}

func TestIngestUploadResolvesMimeFromExtension(t *testing.T) {
	uc := NewIngestDocumentUseCase(&ingestDocsFake{}, &ingestStorageFake{}, 1<<20)

	doc, err := uc.Upload(context.Background(), "notes.txt", "application/octet-stream", bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.MimeType != "text/plain" {
		t.Fatalf("expected text/plain, got %s", doc.MimeType)
	}
}

func TestIngestUploadRejectsUnsupportedFormat(t *testing.T) {
	uc := NewIngestDocumentUseCase(&ingestDocsFake{}, &ingestStorageFake{}, 1<<20)

	_, err := uc.Upload(context.Background(), "photo.png", "image/png", bytes.NewBufferString("png"))
	if !domain.IsKind(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestIngestUploadEnforcesSizeCap(t *testing.T) {
	storage := &ingestStorageFake{}
	uc := NewIngestDocumentUseCase(&ingestDocsFake{}, storage, 8)

	_, err := uc.Upload(context.Background(), "big.txt", "text/plain", bytes.NewBufferString("way past the size cap"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for oversized upload, got %v", err)
	}
	if len(storage.deletedKeys) != 1 || storage.deletedKeys[0] != storage.savedKey {
		t.Fatalf("rejected blob should be deleted, got deletions %v", storage.deletedKeys)
	}
}

func TestIngestUploadCleansUpBlobWhenMetadataWriteFails(t *testing.T) {
	docs := &ingestDocsFake{err: errors.New("db down")}
	storage := &ingestStorageFake{}
	uc := NewIngestDocumentUseCase(docs, storage, 1<<20)

	_, err := uc.Upload(context.Background(), "nda.txt", "text/plain", bytes.NewBufferString("the parties agree"))
	if err == nil {
		t.Fatalf("expected metadata write error")
	}
	if len(storage.deletedKeys) != 1 || storage.deletedKeys[0] != storage.savedKey {
		t.Fatalf("orphaned blob should be deleted, got deletions %v", storage.deletedKeys)
	}
}
