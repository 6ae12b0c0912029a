// Package storage keeps uploaded document files outside the database.
// A document row only stores the reference returned by Put.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"docuflow/internal/apperror"
	"docuflow/internal/config"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// MaxUploadSize is the largest accepted document file.
const MaxUploadSize int64 = 10 << 20

// SniffLen is how many leading bytes ValidateUpload needs to detect the content type.
const SniffLen = 3072

var allowedExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {},
	".xls": {}, ".xlsx": {},
	".ppt": {}, ".pptx": {},
}

// Office formats are either OLE compound files or zip archives; the sniffer
// walks up to one of these roots.
var allowedContent = []string{
	"application/pdf",
	"application/zip",
	"application/x-ole-storage",
}

// Store persists blobs under opaque references.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// New builds the store selected by STORAGE_DRIVER.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.StorageDriver {
	case "fs", "":
		return NewLocalStore(cfg.UploadDir)
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}

// ValidateUpload checks name, size and sniffed content of an incoming file.
func ValidateUpload(filename string, size int64, head []byte) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[ext]; !ok {
		return apperror.Validation("Tipo de archivo no permitido. Solo se permiten archivos PDF, Word, Excel y PowerPoint")
	}
	if size <= 0 || len(head) == 0 {
		return apperror.Validation("el archivo está vacío")
	}
	if size > MaxUploadSize {
		return apperror.Validation("el archivo supera el tamaño máximo de 10MB")
	}

	detected := mimetype.Detect(head)
	for m := detected; m != nil; m = m.Parent() {
		for _, allowed := range allowedContent {
			if m.Is(allowed) {
				return nil
			}
		}
	}
	return apperror.Newf(apperror.KindValidation, "el contenido del archivo (%s) no corresponde a un documento", detected.String())
}

// ObjectName derives a collision-free blob name that keeps the original extension.
func ObjectName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("%d-%s%s", time.Now().UnixNano(), uuid.NewString(), ext)
}
