// Package fixtures provides the pre-recorded DAL responses served by dalmock
// and the Store interface the server reads them through.
//
// Fixtures are addressed by a slash-separated name relative to the store
// root, e.g. "neat-sia.xml". The server never interprets fixture bytes; the
// Inspect helpers in this package exist for tooling only.
package fixtures

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNotFound is returned (wrapped) when a fixture name has no backing content.
var ErrNotFound = errors.New("fixture not found")

//go:embed data/*.xml
var embedded embed.FS

// Store resolves a fixture name to its content.
type Store interface {
	// Open returns a reader over the fixture bytes.
	Open(name string) (io.ReadCloser, error)
	// Size returns the fixture length in bytes.
	Size(name string) (int64, error)
}

// Lister is implemented by stores that can enumerate their fixtures.
type Lister interface {
	List(pattern string) ([]string, error)
}

// FSStore serves fixtures from an fs.FS.
type FSStore struct {
	fsys fs.FS
}

// NewFSStore returns a store reading from fsys.
func NewFSStore(fsys fs.FS) *FSStore {
	return &FSStore{fsys: fsys}
}

// Dir returns a store reading fixtures from a directory on disk.
func Dir(path string) *FSStore {
	return NewFSStore(os.DirFS(path))
}

// Embedded returns a store over the fixtures compiled into this package.
func Embedded() *FSStore {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		// data/ is fixed at compile time.
		panic(err)
	}
	return NewFSStore(sub)
}

// Open implements Store.
func (s *FSStore) Open(name string) (io.ReadCloser, error) {
	if _, err := s.stat(name); err != nil {
		return nil, err
	}
	f, err := s.fsys.Open(name)
	if err != nil {
		return nil, notFound(name, err)
	}
	return f, nil
}

// Size implements Store.
func (s *FSStore) Size(name string) (int64, error) {
	info, err := s.stat(name)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *FSStore) stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) || name == "." {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	info, err := fs.Stat(s.fsys, name)
	if err != nil {
		return nil, notFound(name, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %q is a directory", ErrNotFound, name)
	}
	return info, nil
}

// List returns the fixture names matching a doublestar pattern, sorted.
// An empty pattern matches every file.
func (s *FSStore) List(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "**"
	}
	matches, err := doublestar.Glob(s.fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("listing fixtures %q: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

func notFound(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return fmt.Errorf("fixture %q: %w", name, err)
}

// MapStore is an in-memory Store keyed by fixture name.
type MapStore map[string][]byte

// Open implements Store.
func (m MapStore) Open(name string) (io.ReadCloser, error) {
	b, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Size implements Store.
func (m MapStore) Size(name string) (int64, error) {
	b, ok := m[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return int64(len(b)), nil
}

// List implements Lister.
func (m MapStore) List(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("listing fixtures %q: %w", pattern, doublestar.ErrBadPattern)
	}
	var names []string
	for name := range m {
		if doublestar.MatchUnvalidated(pattern, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
