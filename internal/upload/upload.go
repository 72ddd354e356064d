package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Storage keeps uploaded images and hands back a stable reference.
type Storage interface {
	Save(ctx context.Context, originalName, contentType string, r io.Reader) (string, error)
}

// LocalStorage writes files under a configured directory that is created
// on first use. References look like "uploads/<file>".
type LocalStorage struct {
	dir       string
	refPrefix string
	now       func() time.Time

	once    sync.Once
	initErr error
	mu      sync.Mutex
}

func NewLocalStorage(dir string) *LocalStorage {
	return &LocalStorage{dir: dir, refPrefix: "uploads", now: time.Now}
}

// Dir returns the directory files are written to.
func (s *LocalStorage) Dir() string {
	return s.dir
}

func (s *LocalStorage) ensureDir() error {
	s.once.Do(func() {
		s.initErr = os.MkdirAll(s.dir, 0o755)
	})
	return s.initErr
}

func (s *LocalStorage) Save(ctx context.Context, originalName, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.ensureDir(); err != nil {
		return "", fmt.Errorf("create upload dir %s: %w", s.dir, err)
	}

	dst, name, err := s.create(filepath.Ext(originalName))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("write upload %s: %w", name, err)
	}
	return path.Join(s.refPrefix, name), nil
}

// create picks a millisecond timestamp name, bumping it on collision.
func (s *LocalStorage) create(ext string) (*os.File, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	for i := 0; i < 1000; i++ {
		name := fmt.Sprintf("%d%s", ms+int64(i), strings.ToLower(ext))
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !os.IsExist(err) {
			return nil, "", fmt.Errorf("create upload file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("create upload file: no free name near %d", ms)
}
