package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/types"
)

type UserRepo interface {
	Create(ctx context.Context, tx *gorm.DB, user *types.User) error
	GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.User, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{
		db:  db,
		log: baseLog.With("repo", "UserRepo"),
	}
}

func (r *userRepo) Create(ctx context.Context, tx *gorm.DB, user *types.User) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return transaction.WithContext(ctx).Create(user).Error
}

func (r *userRepo) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var user types.User
	err := transaction.WithContext(ctx).
		Where("email = ?", email).
		Limit(1).
		Find(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == uuid.Nil {
		return nil, nil
	}
	return &user, nil
}
