// Package local provides the filesystem ObjectStore backend. Objects
// live under a base directory mirroring the hierarchical key layout;
// writes go through a temp file and rename so readers never observe a
// partial object.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/storage"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// Store is a filesystem-backed ObjectStore.
type Store struct {
	baseDir string
}

// New creates a filesystem store rooted at baseDir, creating it when
// absent.
func New(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Store{baseDir: abs}, nil
}

// BaseDir returns the root directory of the store.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// resolve maps a storage key onto a filesystem path and rejects keys
// that would escape the base directory.
func (s *Store) resolve(key string) (string, error) {
	if key == "" {
		return "", fault.InvalidInput("empty_key", "storage key must not be empty")
	}
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	path = filepath.Clean(path)
	if path != s.baseDir && !strings.HasPrefix(path, s.baseDir+string(filepath.Separator)) {
		return "", fault.InvalidInput("invalid_key", "storage key is not valid")
	}
	return path, nil
}

// Put stores data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := s.writeFileAtomic(path, func(f *os.File) error {
		_, werr := f.Write(data)
		return werr
	}); err != nil {
		return "", fault.Wrap(fault.KindUnavailable, "storage_write_failed", "could not store object", err)
	}
	return key, nil
}

// PutReader streams r into the object under key.
func (s *Store) PutReader(ctx context.Context, key string, r io.Reader) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := s.writeFileAtomic(path, func(f *os.File) error {
		_, werr := io.Copy(f, r)
		return werr
	}); err != nil {
		return "", fault.Wrap(fault.KindUnavailable, "storage_write_failed", "could not store object", err)
	}
	return key, nil
}

// writeFileAtomic writes via a temp file in the destination directory
// then renames it into place.
func (s *Store) writeFileAtomic(path string, write func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}

// Get returns the object's bytes.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.NotFound("object_not_found", "object does not exist")
		}
		return nil, fault.Wrap(fault.KindUnavailable, "storage_read_failed", "could not read object", err)
	}
	return data, nil
}

// GetReader returns a streaming reader over the object.
func (s *Store) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.NotFound("object_not_found", "object does not exist")
		}
		return nil, fault.Wrap(fault.KindUnavailable, "storage_read_failed", "could not read object", err)
	}
	return f, nil
}

// GetURL returns the object's absolute filesystem path. Local objects
// need no signing; expiry is ignored.
func (s *Store) GetURL(ctx context.Context, key string, _ time.Duration) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fault.NotFound("object_not_found", "object does not exist")
		}
		return "", fault.Wrap(fault.KindUnavailable, "storage_stat_failed", "could not stat object", err)
	}
	return path, nil
}

// Delete removes the object and prunes directories it leaves empty.
// Absent keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fault.Wrap(fault.KindUnavailable, "storage_delete_failed", "could not delete object", err)
	}
	s.pruneEmptyDirs(filepath.Dir(path))
	return true, nil
}

// Exists reports whether the key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fault.Wrap(fault.KindUnavailable, "storage_stat_failed", "could not stat object", err)
	}
	return true, nil
}

// Stat returns object metadata.
func (s *Store) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.NotFound("object_not_found", "object does not exist")
		}
		return nil, fault.Wrap(fault.KindUnavailable, "storage_stat_failed", "could not stat object", err)
	}
	return &storage.ObjectInfo{
		Key:         key,
		Size:        info.Size(),
		ContentType: storage.ContentTypeForKey(key),
		ModifiedAt:  info.ModTime().UTC(),
	}, nil
}

// List returns the objects under prefix, implementing storage.Lister
// for the retention sweeper.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	root := s.baseDir
	if prefix != "" {
		resolved, err := s.resolve(strings.TrimSuffix(prefix, "/"))
		if err != nil {
			return nil, err
		}
		root = resolved
	}

	var out []storage.ObjectInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return nil
		}
		out = append(out, storage.ObjectInfo{
			Key:         filepath.ToSlash(rel),
			Size:        info.Size(),
			ContentType: storage.ContentTypeForKey(path),
			ModifiedAt:  info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindUnavailable, "storage_list_failed", "could not list objects", err)
	}
	return out, nil
}

// pruneEmptyDirs removes empty parent directories up to the base.
func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.baseDir && strings.HasPrefix(dir, s.baseDir) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

var _ storage.ObjectStore = (*Store)(nil)
