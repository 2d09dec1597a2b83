// Package docstore persists the source documents that the vector index is
// derived from. Documents are addressed by (folder, filename).
package docstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"legalrag/internal/model"
	"legalrag/internal/pkg/pdfextract"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrExists          = errors.New("document already exists")
	ErrInvalidFilename = errors.New("invalid filename")
)

type Store interface {
	Save(ctx context.Context, folder, filename string, data []byte, overwrite bool) (model.Document, error)
	Read(ctx context.Context, doc model.Document) ([]byte, error)
	// Locate searches folders in order; with none given it uses model.SearchFolders.
	Locate(ctx context.Context, filename string, folders ...string) (model.Document, error)
	// List returns supported documents in folder, or in every folder when nil.
	List(ctx context.Context, folder *string) ([]model.Document, error)
	Exists(ctx context.Context, folder, filename string) (bool, error)
	Delete(ctx context.Context, doc model.Document) (int64, error)
	Ping(ctx context.Context) error
	Root() string
}

// CleanFilename strips any directory component and rejects names that could
// escape the store or that have an unsupported extension.
func CleanFilename(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	base := filepath.Base(name)
	if base == "" || base == "." || base == "/" || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return base, nil
}

// CleanFolder normalises a folder argument. Only single-level folder names
// are accepted.
func CleanFolder(folder string) (string, error) {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" || folder == "." {
		return "", nil
	}
	if strings.Contains(folder, "/") || strings.Contains(folder, "\\") || strings.HasPrefix(folder, ".") {
		return "", fmt.Errorf("%w: folder %q", ErrInvalidFilename, folder)
	}
	return folder, nil
}

func candidateFolders(folders []string) []string {
	if len(folders) == 0 {
		return model.SearchFolders
	}
	return folders
}

func newDocument(folder, filename, path string, size int64) model.Document {
	return model.Document{
		Filename:     filename,
		Folder:       folder,
		Path:         path,
		Size:         size,
		SizeMB:       float64(size) / (1024 * 1024),
		DocumentType: model.DefaultTypeForFolder(folder),
	}
}

func supported(name string) bool {
	return !strings.HasPrefix(name, ".") && pdfextract.IsSupported(name)
}
