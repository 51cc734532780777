package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
)

// FileSystemArtifacts implements ArtifactStore on the local filesystem
type FileSystemArtifacts struct {
	rootDir string
}

// NewFileSystemArtifacts creates a new filesystem-based artifact store
func NewFileSystemArtifacts(rootDir string) (*FileSystemArtifacts, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemArtifacts{rootDir: rootDir}, nil
}

func (s *FileSystemArtifacts) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(key, "..") {
		return "", errors.NotValidf("artifact key %q", key)
	}
	return filepath.Join(s.rootDir, clean), nil
}

// Put implements ArtifactStore.Put
func (s *FileSystemArtifacts) Put(ctx context.Context, key string, r io.Reader, checksum string) (*ArtifactInfo, error) {
	dest, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	if checksum != "" && !strings.EqualFold(checksum, sum) {
		return nil, errors.NotValidf("sha256 mismatch: expected %s, got %s", checksum, sum)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, fmt.Errorf("failed to move artifact into place: %w", err)
	}

	return &ArtifactInfo{Key: key, Size: size, SHA256: sum}, nil
}

// Get implements ArtifactStore.Get
func (s *FileSystemArtifacts) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("artifact %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, nil
}

// Exists implements ArtifactStore.Exists
func (s *FileSystemArtifacts) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Delete implements ArtifactStore.Delete
func (s *FileSystemArtifacts) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}
