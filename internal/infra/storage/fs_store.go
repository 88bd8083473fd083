// Package storage provides the default content-addressable object store,
// backed by the local filesystem. Locators are sha256 hex digests of the
// content, so identical uploads land on the same locator and the store
// doubles as the duplicate-submission content hash.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/ports/adapter"
)

var _ adapter.ObjectStore = (*FSStore)(nil)

type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(locator string) string {
	// Two-level fan-out keeps directory sizes sane.
	return filepath.Join(s.root, locator[:2], locator[2:4], locator)
}

func (s *FSStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	locator := hex.EncodeToString(sum[:])

	dst := s.path(locator)
	if _, err := os.Stat(dst); err == nil {
		return locator, nil // identical content already stored
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	// Write-then-rename so readers never see partial content.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return locator, nil
}

func (s *FSStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(locator) != 64 {
		return nil, domain.ErrInvalidArgument
	}
	b, err := os.ReadFile(s.path(locator))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}
