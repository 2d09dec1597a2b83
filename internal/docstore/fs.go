package docstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"legalrag/internal/model"
)

// FSStore keeps documents under a data directory; each folder is a
// subdirectory and the flat area is the directory itself.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	for _, folder := range model.SearchFolders {
		if err := os.MkdirAll(filepath.Join(root, folder), 0o755); err != nil {
			return nil, fmt.Errorf("create data folder failed: %w", err)
		}
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) Save(_ context.Context, folder, filename string, data []byte, overwrite bool) (model.Document, error) {
	dir := filepath.Join(s.root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.Document{}, fmt.Errorf("create folder failed: %w", err)
	}
	dst := filepath.Join(dir, filename)
	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return model.Document{}, ErrExists
		}
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return model.Document{}, fmt.Errorf("create temp file failed: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return model.Document{}, fmt.Errorf("write document failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return model.Document{}, fmt.Errorf("sync document failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return model.Document{}, fmt.Errorf("close document failed: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return model.Document{}, fmt.Errorf("rename document failed: %w", err)
	}
	return s.stat(folder, filename)
}

func (s *FSStore) Read(_ context.Context, doc model.Document) ([]byte, error) {
	data, err := os.ReadFile(doc.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read document failed: %w", err)
	}
	return data, nil
}

func (s *FSStore) Locate(_ context.Context, filename string, folders ...string) (model.Document, error) {
	for _, folder := range candidateFolders(folders) {
		doc, err := s.stat(folder, filename)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return doc, err
	}
	return model.Document{}, ErrNotFound
}

func (s *FSStore) Exists(_ context.Context, folder, filename string) (bool, error) {
	_, err := s.stat(folder, filename)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *FSStore) List(_ context.Context, folder *string) ([]model.Document, error) {
	var docs []model.Document
	if folder != nil {
		entries, err := os.ReadDir(filepath.Join(s.root, *folder))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read folder failed: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !supported(entry.Name()) {
				continue
			}
			doc, err := s.stat(*folder, entry.Name())
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		return docs, nil
	}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supported(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(s.root, filepath.Dir(path))
		if err != nil {
			return err
		}
		if rel == "." {
			rel = ""
		}
		doc, err := s.stat(filepath.ToSlash(rel), d.Name())
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk data folder failed: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func (s *FSStore) Delete(_ context.Context, doc model.Document) (int64, error) {
	info, err := os.Stat(doc.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("stat document failed: %w", err)
	}
	if err := os.Remove(doc.Path); err != nil {
		return 0, fmt.Errorf("remove document failed: %w", err)
	}
	return info.Size(), nil
}

func (s *FSStore) Ping(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("stat data folder failed: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data folder %s is not a directory", s.root)
	}
	return nil
}

func (s *FSStore) stat(folder, filename string) (model.Document, error) {
	path := filepath.Join(s.root, folder, filename)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Document{}, ErrNotFound
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("stat document failed: %w", err)
	}
	if info.IsDir() {
		return model.Document{}, ErrNotFound
	}
	doc := newDocument(folder, filename, path, info.Size())
	doc.ModifiedAt = info.ModTime()
	return doc, nil
}
