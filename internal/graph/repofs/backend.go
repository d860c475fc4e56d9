package repofs

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Backend is the permanent file repository for stored nodes. One folder
// per node UUID. ReplaceFolder must be as close to atomic as the medium
// allows; RestoreToDir is its compensation, used when the database write
// that follows a folder move fails.
type Backend interface {
	// ReplaceFolder replaces the node's folder with the contents of
	// srcDir. When move is true the source directory is consumed.
	ReplaceFolder(ctx context.Context, nodeID uuid.UUID, srcDir string, move bool) error

	// RestoreToDir moves the node's folder contents back into dstDir and
	// removes the permanent copy.
	RestoreToDir(ctx context.Context, nodeID uuid.UUID, dstDir string) error

	// CopyToDir exports the node's folder contents into dstDir without
	// touching the permanent copy.
	CopyToDir(ctx context.Context, nodeID uuid.UUID, dstDir string) error

	List(ctx context.Context, nodeID uuid.UUID) ([]string, error)
	Open(ctx context.Context, nodeID uuid.UUID, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, nodeID uuid.UUID) error
}
