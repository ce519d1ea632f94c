package checkpoint

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const fileExt = ".json"

// FileStore keeps one JSON file per stream key under a directory. Writes go
// to a temp file followed by a rename, so a concurrent reader never observes
// a partially written cursor. Suitable for single-node deployments; use
// PostgresStore when the service runs against a shared database.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "init", Err: err}
	}
	return &FileStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}, nil
}

// keyLock serializes access per stream key; different keys proceed in parallel.
func (s *FileStore) keyLock(streamKey string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[streamKey]
	if !ok {
		l = &sync.Mutex{}
		s.locks[streamKey] = l
	}
	return l
}

func (s *FileStore) path(streamKey string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(streamKey)) + fileExt
	return filepath.Join(s.dir, name)
}

func (s *FileStore) Load(_ context.Context, streamKey string) (Checkpoint, bool, error) {
	l := s.keyLock(streamKey)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(s.path(streamKey))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, &StorageError{Op: "load", StreamKey: streamKey, Err: err}
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, &StorageError{Op: "load", StreamKey: streamKey, Err: err}
	}
	return cp, true, nil
}

func (s *FileStore) Save(_ context.Context, streamKey, cursor string) error {
	l := s.keyLock(streamKey)
	l.Lock()
	defer l.Unlock()

	cp := Checkpoint{StreamKey: streamKey, Cursor: cursor, UpdatedAt: s.now().UTC()}
	data, err := json.Marshal(cp)
	if err != nil {
		return &StorageError{Op: "save", StreamKey: streamKey, Err: err}
	}

	// Write-then-rename keeps the overwrite atomic on POSIX filesystems.
	tmp, err := os.CreateTemp(s.dir, "checkpoint-*")
	if err != nil {
		return &StorageError{Op: "save", StreamKey: streamKey, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StorageError{Op: "save", StreamKey: streamKey, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "save", StreamKey: streamKey, Err: err}
	}
	if err := os.Rename(tmpName, s.path(streamKey)); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "save", StreamKey: streamKey, Err: err}
	}
	return nil
}

func (s *FileStore) Reset(_ context.Context, streamKey string) error {
	l := s.keyLock(streamKey)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(s.path(streamKey)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "reset", StreamKey: streamKey, Err: err}
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}

	var cps []Checkpoint
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, &StorageError{Op: "list", Err: err}
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return nil, &StorageError{Op: "list", Err: fmt.Errorf("decode %s: %w", e.Name(), err)}
		}
		cps = append(cps, cp)
	}
	return cps, nil
}
