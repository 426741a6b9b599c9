package repositories

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"discovery-worker/cache"
)

// FileArtifactStore keeps artifacts under <root>/<bucket>/<fingerprint>.<ext>.
type FileArtifactStore struct {
	root string
}

func NewFileArtifactStore(root string) *FileArtifactStore {
	return &FileArtifactStore{root: root}
}

func (s *FileArtifactStore) path(bucket, fingerprint, ext string) string {
	return filepath.Join(s.root, bucket, fingerprint+"."+ext)
}

func (s *FileArtifactStore) Read(ctx context.Context, bucket, fingerprint string) (string, bool, error) {
	for _, ext := range cache.Extensions {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		data, err := os.ReadFile(s.path(bucket, fingerprint, ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to read artifact %s/%s: %w", bucket, fingerprint, err)
		}
		return string(data), true, nil
	}
	return "", false, nil
}

// Write replaces each artifact atomically. Identical content is left
// untouched and copies under another extension are removed.
func (s *FileArtifactStore) Write(ctx context.Context, artifacts []cache.StoredArtifact) ([]string, error) {
	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		dir := filepath.Join(s.root, a.Bucket)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, fmt.Errorf("failed to create artifact dir %s: %w", dir, err)
		}

		target := s.path(a.Bucket, a.Fingerprint, a.Extension)
		if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, []byte(a.Payload)) {
			paths = append(paths, target)
			continue
		}
		if err := writeAtomic(dir, target, []byte(a.Payload)); err != nil {
			return paths, err
		}
		for _, ext := range cache.Extensions {
			if ext != a.Extension {
				_ = os.Remove(s.path(a.Bucket, a.Fingerprint, ext))
			}
		}
		paths = append(paths, target)
	}
	return paths, nil
}

func writeAtomic(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move artifact into %s: %w", target, err)
	}
	return nil
}
