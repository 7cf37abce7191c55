package uploads

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Store keeps uploaded source files in a single flat directory.
type Store struct {
	fs  afero.Fs
	dir string
}

// New returns a Store rooted at dir on fs, creating dir when missing.
func New(fs afero.Fs, dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("uploads: directory is required")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("uploads: create %s: %w", dir, err)
	}
	return &Store{fs: fs, dir: dir}, nil
}

// NewOS is New on the real filesystem.
func NewOS(dir string) (*Store, error) {
	return New(afero.NewOsFs(), dir)
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes data under the base name of filename and returns the path.
// An existing file with the same name is replaced.
func (s *Store) Save(filename string, data []byte) (string, error) {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("uploads: invalid file name %q", filename)
	}

	path := filepath.Join(s.dir, name)
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("uploads: write %s: %w", path, err)
	}
	return path, nil
}

// Clear removes every entry of the directory but keeps the directory.
func (s *Store) Clear() error {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("uploads: list %s: %w", s.dir, err)
	}

	var errs []error
	for _, e := range entries {
		if err := s.fs.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("uploads: clear %s: %w", s.dir, errors.Join(errs...))
	}
	return nil
}

// List returns the names of the stored files.
func (s *Store) List() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("uploads: list %s: %w", s.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
