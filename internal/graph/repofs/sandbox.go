package repofs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sandbox is the temporary directory holding an unstored node's files.
// All paths are relative to the sandbox root; storing a node moves the
// whole directory into the permanent backend.
type Sandbox struct {
	dir string
}

func NewSandbox() (*Sandbox, error) {
	dir, err := os.MkdirTemp("", "provgraph-sandbox-")
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	return &Sandbox{dir: dir}, nil
}

// NewSandboxAt wraps an existing directory, used when restoring files from
// the permanent backend during store compensation.
func NewSandboxAt(dir string) *Sandbox {
	return &Sandbox{dir: dir}
}

func (s *Sandbox) Dir() string { return s.dir }

func (s *Sandbox) validRel(name string) (string, error) {
	name = filepath.Clean(strings.TrimSpace(name))
	if name == "" || name == "." || filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
		return "", fmt.Errorf("invalid sandbox path %q", name)
	}
	return name, nil
}

func (s *Sandbox) Insert(name string, r io.Reader) error {
	rel, err := s.validRel(name)
	if err != nil {
		return err
	}
	dst := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

func (s *Sandbox) InsertBytes(name string, data []byte) error {
	rel, err := s.validRel(name)
	if err != nil {
		return err
	}
	dst := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func (s *Sandbox) Remove(name string) error {
	rel, err := s.validRel(name)
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.dir, rel))
}

// List returns the sorted relative paths of all regular files.
func (s *Sandbox) List() ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *Sandbox) Open(name string) (io.ReadCloser, error) {
	rel, err := s.validRel(name)
	if err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.dir, rel))
}

// Discard removes the sandbox directory and everything in it.
func (s *Sandbox) Discard() error {
	if s == nil || s.dir == "" {
		return nil
	}
	return os.RemoveAll(s.dir)
}

// Gone reports whether the sandbox directory no longer exists, which is
// the case after its contents were moved into the permanent backend.
func (s *Sandbox) Gone() bool {
	if s == nil || s.dir == "" {
		return true
	}
	_, err := os.Stat(s.dir)
	return os.IsNotExist(err)
}
