package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"coachcal/internal/fsutil"
	appLog "coachcal/internal/log"
)

// File stores one JSON array per collection under dir/<name>.json.
// Writes go through a temp file + rename so a crash never leaves a
// truncated collection behind.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile creates the data directory (0700) if needed.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("file storage: data dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file storage: %w", err)
	}
	appLog.Info("file storage ready", "dir", dir)
	return &File{dir: dir}, nil
}

func (f *File) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidCollection
	}
	return filepath.Join(f.dir, name+".json"), nil
}

func (f *File) LoadCollection(_ context.Context, name string) ([]Record, error) {
	p, err := f.path(name)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	recs, err := unmarshalCollection(data)
	if err != nil {
		return nil, fmt.Errorf("file storage: %s: %w", name, err)
	}
	return recs, nil
}

func (f *File) SaveCollection(_ context.Context, name string, records []Record) error {
	p, err := f.path(name)
	if err != nil {
		return err
	}
	data, err := marshalCollection(records)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return fsutil.WriteFileAtomic(p, data, "."+name+"-*.tmp")
}

func (f *File) DeleteCollections(_ context.Context, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		p, err := f.path(n)
		if err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (f *File) Close() error { return nil }
