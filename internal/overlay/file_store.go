package overlay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/streamrelay/internal/logger"
)

// fileDocument is the on-disk layout of a FileStore
type fileDocument struct {
	Overlays []Overlay `yaml:"overlays"`
}

// FileStore keeps overlays in a YAML file. Identifiers are UUIDs.
type FileStore struct {
	path     string
	overlays []Overlay
	mu       sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore loads path, starting empty when the file does not exist yet
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.WithComponent("overlay").Info().
			Str("path", path).
			Msg("Overlay file not found, starting empty")
	case err != nil:
		return nil, fmt.Errorf("failed to read overlays: %w", err)
	default:
		var doc fileDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse overlays: %w", err)
		}
		s.overlays = doc.Overlays
	}

	logger.WithComponent("overlay").Info().
		Str("path", path).
		Int("overlays", len(s.overlays)).
		Msg("Overlay store loaded")
	return s, nil
}

// Path returns the backing file
func (s *FileStore) Path() string {
	return s.path
}

// Create implements Store
func (s *FileStore) Create(_ context.Context, o Overlay) (string, error) {
	if !o.HasGeometry() {
		return "", ErrMissingGeometry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o.ID = uuid.NewString()
	s.overlays = append(s.overlays, o)
	if err := s.saveLocked(); err != nil {
		s.overlays = s.overlays[:len(s.overlays)-1]
		return "", err
	}
	return o.ID, nil
}

// List implements Store
func (s *FileStore) List(_ context.Context) ([]Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Overlay, 0, len(s.overlays))
	for _, o := range s.overlays {
		if o.HasGeometry() {
			out = append(out, o)
		}
	}
	return out, nil
}

// Update implements Store
func (s *FileStore) Update(_ context.Context, id string, patch Patch) (bool, error) {
	if err := validateUUID(id); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}

	updated := s.overlays[i]
	if !patch.Apply(&updated) {
		return false, nil
	}

	prev := s.overlays[i]
	s.overlays[i] = updated
	if err := s.saveLocked(); err != nil {
		s.overlays[i] = prev
		return false, err
	}
	return true, nil
}

// Delete implements Store
func (s *FileStore) Delete(_ context.Context, id string) (bool, error) {
	if err := validateUUID(id); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}

	prev := s.overlays
	s.overlays = append(append([]Overlay(nil), prev[:i]...), prev[i+1:]...)
	if err := s.saveLocked(); err != nil {
		s.overlays = prev
		return false, err
	}
	return true, nil
}

// Close implements Store
func (s *FileStore) Close(context.Context) error {
	return nil
}

func (s *FileStore) indexLocked(id string) int {
	for i := range s.overlays {
		if s.overlays[i].ID == id {
			return i
		}
	}
	return -1
}

// saveLocked writes the document atomically (caller must hold the write lock)
func (s *FileStore) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create overlay directory: %w", err)
	}

	data, err := yaml.Marshal(fileDocument{Overlays: s.overlays})
	if err != nil {
		return fmt.Errorf("failed to marshal overlays: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".overlays-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write overlays: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write overlays: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write overlays: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write overlays: %w", err)
	}

	logger.WithComponent("overlay").Debug().
		Str("path", s.path).
		Int("overlays", len(s.overlays)).
		Msg("Overlays saved")
	return nil
}

func validateUUID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidID, id)
	}
	return nil
}
