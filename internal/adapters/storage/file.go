package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// FileStore guarda un documento JSON por partición: <dir>/portfolio_<name>.json.
// Las escrituras van a un .tmp y luego se renombran, así un crash a mitad
// de escritura nunca deja un documento parcial.
type FileStore struct {
	dir string
	mu  sync.Mutex // serializa todas las operaciones de fichero
}

// NewFileStore crea el store en dir, creando el directorio si no existe.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage.NewFileStore: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("invalid partition name %q", name)
	}
	return filepath.Join(s.dir, "portfolio_"+name+".json"), nil
}

// Load devuelve (nil, nil) si la partición todavía no tiene documento.
func (s *FileStore) Load(_ context.Context, name string) (*domain.Portfolio, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, fmt.Errorf("storage.Load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage.Load %s: %w", name, err)
	}

	var p domain.Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("storage.Load %s: unmarshal: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	return &p, nil
}

// Save escribe el documento de forma atómica.
func (s *FileStore) Save(_ context.Context, p *domain.Portfolio) error {
	path, err := s.path(p.Name)
	if err != nil {
		return fmt.Errorf("storage.Save: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("storage.Save %s: marshal: %w", p.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("storage.Save %s: write: %w", p.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("storage.Save %s: rename: %w", p.Name, err)
	}
	return nil
}
