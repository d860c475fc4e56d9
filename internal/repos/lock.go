package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/types"
)

type LockRepo interface {
	// Acquire inserts the lock row for the node. A concurrent holder makes
	// the insert fail with gorm.ErrDuplicatedKey; callers reinterpret that
	// as lock contention.
	Acquire(ctx context.Context, nodeID uuid.UUID, owner string) error
	Release(ctx context.Context, nodeID uuid.UUID) error
	IsLocked(ctx context.Context, nodeID uuid.UUID) (bool, error)
}

type lockRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLockRepo(db *gorm.DB, baseLog *logger.Logger) LockRepo {
	return &lockRepo{
		db:  db,
		log: baseLog.With("repo", "LockRepo"),
	}
}

func (r *lockRepo) Acquire(ctx context.Context, nodeID uuid.UUID, owner string) error {
	lock := &types.NodeLock{NodeID: nodeID, Owner: owner}
	return r.db.WithContext(ctx).Create(lock).Error
}

func (r *lockRepo) Release(ctx context.Context, nodeID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("node_id = ?", nodeID).
		Delete(&types.NodeLock{}).Error
}

func (r *lockRepo) IsLocked(ctx context.Context, nodeID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&types.NodeLock{}).
		Where("node_id = ?", nodeID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
