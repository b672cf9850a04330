package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRegistryCorrupted indicates the registry file could not be decoded.
var ErrRegistryCorrupted = errors.New("registry file corrupted")

// Store is the read-modify-write interface to a registry.
type Store interface {
	// Read returns the current registry, or an empty one when none exists.
	Read(ctx context.Context) (*Registry, error)

	// Update applies fn to the current registry and persists the result.
	Update(ctx context.Context, fn func(*Registry) error) (*Registry, error)
}

// FileStore is a Store backed by a JSON file.
type FileStore struct {
	path            string
	maxObservations int
	logger          *zap.Logger

	mu sync.Mutex
}

// NewFileStore returns a store for the file at path. maxObservations
// bounds the registry on every update; zero uses DefaultMaxObservations.
func NewFileStore(path string, maxObservations int, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("registry path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxObservations <= 0 {
		maxObservations = DefaultMaxObservations
	}
	return &FileStore{path: path, maxObservations: maxObservations, logger: logger}, nil
}

// Path returns the registry file path.
func (s *FileStore) Path() string { return s.path }

// Read implements Store.
func (s *FileStore) Read(ctx context.Context) (*Registry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Update implements Store.
func (s *FileStore) Update(ctx context.Context, fn func(*Registry) error) (*Registry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load()
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}

	r = LimitSize(r, s.maxObservations)
	r.UpdatedAt = time.Now().UTC()
	if err := s.save(r); err != nil {
		return nil, err
	}
	return r, nil
}

// load reads the registry. Corruption is recovered, not returned.
func (s *FileStore) load() (*Registry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var r Registry
	if err := json.Unmarshal(data, &r); err != nil {
		s.recoverCorrupt(data, fmt.Errorf("%w: %v", ErrRegistryCorrupted, err))
		return New(), nil
	}
	r.normalize()
	return &r, nil
}

// recoverCorrupt copies the unreadable file aside.
func (s *FileStore) recoverCorrupt(data []byte, cause error) {
	backup := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().UTC().Format("20060102T150405.000000000"))
	if err := os.WriteFile(backup, data, 0600); err != nil {
		s.logger.Warn("failed to back up corrupt registry",
			zap.String("path", s.path),
			zap.Error(err),
		)
	}
	s.logger.Warn("registry corrupted, starting fresh",
		zap.String("path", s.path),
		zap.String("backup", backup),
		zap.Error(cause),
	)
}

// save writes the registry atomically.
func (s *FileStore) save(r *Registry) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write registry: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename registry: %w", err)
	}
	return nil
}
