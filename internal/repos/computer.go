package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/types"
)

type ComputerRepo interface {
	Create(ctx context.Context, tx *gorm.DB, computer *types.Computer) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Computer, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Computer, error)
}

type computerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewComputerRepo(db *gorm.DB, baseLog *logger.Logger) ComputerRepo {
	return &computerRepo{
		db:  db,
		log: baseLog.With("repo", "ComputerRepo"),
	}
}

func (r *computerRepo) Create(ctx context.Context, tx *gorm.DB, computer *types.Computer) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if computer.ID == uuid.Nil {
		computer.ID = uuid.New()
	}
	return transaction.WithContext(ctx).Create(computer).Error
}

func (r *computerRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Computer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var computer types.Computer
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&computer).Error
	if err != nil {
		return nil, err
	}
	if computer.ID == uuid.Nil {
		return nil, nil
	}
	return &computer, nil
}

func (r *computerRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Computer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var computer types.Computer
	err := transaction.WithContext(ctx).
		Where("name = ?", name).
		Limit(1).
		Find(&computer).Error
	if err != nil {
		return nil, err
	}
	if computer.ID == uuid.Nil {
		return nil, nil
	}
	return &computer, nil
}
