package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/types"
)

type LinkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, link *types.Link) error
	ListIncoming(ctx context.Context, tx *gorm.DB, targetID uuid.UUID, linkTypes []string) ([]*types.Link, error)
	ListOutgoing(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, linkTypes []string) ([]*types.Link, error)
	LabelExists(ctx context.Context, tx *gorm.DB, targetID uuid.UUID, label string) (bool, error)
	PathExists(ctx context.Context, tx *gorm.DB, fromID, toID uuid.UUID) (bool, error)
}

type linkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLinkRepo(db *gorm.DB, baseLog *logger.Logger) LinkRepo {
	return &linkRepo{
		db:  db,
		log: baseLog.With("repo", "LinkRepo"),
	}
}

func (r *linkRepo) Create(ctx context.Context, tx *gorm.DB, link *types.Link) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(link).Error
}

func (r *linkRepo) ListIncoming(ctx context.Context, tx *gorm.DB, targetID uuid.UUID, linkTypes []string) ([]*types.Link, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Where("target_id = ?", targetID)
	if len(linkTypes) > 0 {
		q = q.Where("type IN ?", linkTypes)
	}
	var out []*types.Link
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *linkRepo) ListOutgoing(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, linkTypes []string) ([]*types.Link, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Where("source_id = ?", sourceID)
	if len(linkTypes) > 0 {
		q = q.Where("type IN ?", linkTypes)
	}
	var out []*types.Link
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *linkRepo) LabelExists(ctx context.Context, tx *gorm.DB, targetID uuid.UUID, label string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Link{}).
		Where("target_id = ? AND label = ?", targetID, label).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// PathExists reports whether a directed path fromID -> ... -> toID exists
// in the persisted link table. Used by the cycle check before persisting a
// new edge. Recursive CTE, supported by both postgres and sqlite.
func (r *linkRepo) PathExists(ctx context.Context, tx *gorm.DB, fromID, toID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).Raw(`
		WITH RECURSIVE reachable(node_id) AS (
			SELECT target_id FROM link WHERE source_id = ?
			UNION
			SELECT l.target_id FROM link l
			JOIN reachable r ON l.source_id = r.node_id
		)
		SELECT COUNT(*) FROM reachable WHERE node_id = ?
	`, fromID, toID).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
