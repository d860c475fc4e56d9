package repofs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// LocalBackend stores node folders on the local filesystem under
// root/<aa>/<bb>/<uuid>, sharded on the first two uuid byte pairs to keep
// directory fan-out bounded.
type LocalBackend struct {
	root string
}

func NewLocalBackend(root string) (*LocalBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("repofs: repository root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("repofs: create repository root: %w", err)
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) nodePath(nodeID uuid.UUID) string {
	s := nodeID.String()
	return filepath.Join(b.root, s[:2], s[2:4], s)
}

func (b *LocalBackend) ReplaceFolder(ctx context.Context, nodeID uuid.UUID, srcDir string, move bool) error {
	dst := b.nodePath(nodeID)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if move {
		if err := os.Rename(srcDir, dst); err == nil {
			return nil
		}
		// Rename fails across filesystems; fall through to copy then
		// remove the source to preserve move semantics.
		if err := copyTree(srcDir, dst); err != nil {
			return err
		}
		return os.RemoveAll(srcDir)
	}
	return copyTree(srcDir, dst)
}

func (b *LocalBackend) RestoreToDir(ctx context.Context, nodeID uuid.UUID, dstDir string) error {
	src := b.nodePath(nodeID)
	if err := os.RemoveAll(dstDir); err != nil {
		return err
	}
	if err := os.Rename(src, dstDir); err == nil {
		return nil
	}
	if err := copyTree(src, dstDir); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func (b *LocalBackend) CopyToDir(ctx context.Context, nodeID uuid.UUID, dstDir string) error {
	src := b.nodePath(nodeID)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		// Nodes without files have no folder at all.
		return nil
	}
	return copyTree(src, dstDir)
}

func (b *LocalBackend) List(ctx context.Context, nodeID uuid.UUID) ([]string, error) {
	base := b.nodePath(nodeID)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, nil
	}
	var out []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
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

func (b *LocalBackend) Open(ctx context.Context, nodeID uuid.UUID, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(b.nodePath(nodeID), filepath.FromSlash(name)))
}

func (b *LocalBackend) Delete(ctx context.Context, nodeID uuid.UUID) error {
	return os.RemoveAll(b.nodePath(nodeID))
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}
