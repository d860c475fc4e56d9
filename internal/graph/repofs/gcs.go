package repofs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSBackend keeps node folders as objects under node/<uuid>/ in a single
// bucket. Object stores have no atomic folder replace; ReplaceFolder
// uploads everything before deleting the old prefix and the store flow
// compensates with RestoreToDir on a later failure, which is the same
// staged-write discipline the local backend gets for free from rename.
type GCSBackend struct {
	client *storage.Client
	bucket string
}

func NewGCSBackend(ctx context.Context, bucket, emulatorHost string) (*GCSBackend, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("repofs: bucket name required")
	}
	var client *storage.Client
	var err error
	if emulatorHost != "" {
		if err := os.Setenv("STORAGE_EMULATOR_HOST", emulatorHost); err != nil {
			return nil, err
		}
		client, err = storage.NewClient(ctx, option.WithoutAuthentication())
	} else {
		client, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("repofs: init gcs client: %w", err)
	}
	return &GCSBackend{client: client, bucket: bucket}, nil
}

func (b *GCSBackend) prefix(nodeID uuid.UUID) string {
	return "node/" + nodeID.String() + "/"
}

func (b *GCSBackend) ReplaceFolder(ctx context.Context, nodeID uuid.UUID, srcDir string, move bool) error {
	if err := b.deletePrefix(ctx, b.prefix(nodeID)); err != nil {
		return err
	}
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		return b.upload(ctx, b.prefix(nodeID)+filepath.ToSlash(rel), p)
	})
	if err != nil {
		return err
	}
	if move {
		return os.RemoveAll(srcDir)
	}
	return nil
}

func (b *GCSBackend) RestoreToDir(ctx context.Context, nodeID uuid.UUID, dstDir string) error {
	if err := b.CopyToDir(ctx, nodeID, dstDir); err != nil {
		return err
	}
	return b.deletePrefix(ctx, b.prefix(nodeID))
}

func (b *GCSBackend) CopyToDir(ctx context.Context, nodeID uuid.UUID, dstDir string) error {
	names, err := b.List(ctx, nodeID)
	if err != nil {
		return err
	}
	for _, name := range names {
		rc, err := b.Open(ctx, nodeID, name)
		if err != nil {
			return err
		}
		dst := filepath.Join(dstDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			rc.Close()
			return err
		}
		f, err := os.Create(dst)
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(f, rc)
		rc.Close()
		f.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func (b *GCSBackend) List(ctx context.Context, nodeID uuid.UUID) ([]string, error) {
	prefix := b.prefix(nodeID)
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, strings.TrimPrefix(attrs.Name, prefix))
	}
	sort.Strings(out)
	return out, nil
}

func (b *GCSBackend) Open(ctx context.Context, nodeID uuid.UUID, name string) (io.ReadCloser, error) {
	return b.client.Bucket(b.bucket).Object(path.Join(b.prefix(nodeID), name)).NewReader(ctx)
}

func (b *GCSBackend) Delete(ctx context.Context, nodeID uuid.UUID) error {
	return b.deletePrefix(ctx, b.prefix(nodeID))
}

func (b *GCSBackend) upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b *GCSBackend) deletePrefix(ctx context.Context, prefix string) error {
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return err
		}
		if err := b.client.Bucket(b.bucket).Object(attrs.Name).Delete(ctx); err != nil {
			return err
		}
	}
}
