package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/types"
)

type NodeRepo interface {
	Create(ctx context.Context, tx *gorm.DB, node *types.Node) error
	GetByUUID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Node, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	FindByHashExtra(ctx context.Context, tx *gorm.DB, kind, hash string, limit, offset int) ([]*types.Node, error)
	FindByProcessState(ctx context.Context, tx *gorm.DB, states []string, limit int) ([]*types.Node, error)
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type nodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNodeRepo(db *gorm.DB, baseLog *logger.Logger) NodeRepo {
	return &nodeRepo{
		db:  db,
		log: baseLog.With("repo", "NodeRepo"),
	}
}

func (r *nodeRepo) Create(ctx context.Context, tx *gorm.DB, node *types.Node) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(node).Error
}

func (r *nodeRepo) GetByUUID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Node, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var node types.Node
	err := transaction.WithContext(ctx).
		Where("uuid = ?", id).
		Limit(1).
		Find(&node).Error
	if err != nil {
		return nil, err
	}
	if node.UUID == uuid.Nil {
		return nil, nil
	}
	return &node, nil
}

func (r *nodeRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Node{}).
		Where("uuid = ?", id).
		Updates(updates).Error
}

// FindByHashExtra pages through stored nodes of the given kind whose
// content-hash extra equals hash, oldest first. The caller filters the
// candidates further; pagination keeps the scan lazy.
func (r *nodeRepo) FindByHashExtra(ctx context.Context, tx *gorm.DB, kind, hash string, limit, offset int) ([]*types.Node, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Node
	err := transaction.WithContext(ctx).
		Where("kind = ?", kind).
		Where(datatypes.JSONQuery("extras").Equals(hash, "_content_hash")).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindByProcessState lists nodes whose process_state attribute matches
// one of the given states, oldest first. Used by workers to find
// processes left behind by a dead peer; the node lock decides ownership,
// not this query.
func (r *nodeRepo) FindByProcessState(ctx context.Context, tx *gorm.DB, states []string, limit int) ([]*types.Node, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(states) == 0 {
		return nil, nil
	}
	cond := transaction.Where(datatypes.JSONQuery("attributes").Equals(states[0], "process_state"))
	for _, state := range states[1:] {
		cond = cond.Or(datatypes.JSONQuery("attributes").Equals(state, "process_state"))
	}
	var out []*types.Node
	err := transaction.WithContext(ctx).
		Where(cond).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *nodeRepo) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
