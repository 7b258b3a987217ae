package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/crewtalk-io/crewtalk-api/internal/models"
)

// UserRepository reads account rows and maintains the online flag.
type UserRepository interface {
	Get(ctx context.Context, id string) (models.User, error)
	SetOnline(ctx context.Context, id string, online bool) error
	ListConfirmedByRole(ctx context.Context, role string) ([]models.User, error)
	WithTx(tx *gorm.DB) UserRepository
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository constructs a user repository backed by GORM.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) WithTx(tx *gorm.DB) UserRepository {
	return &userRepository{db: tx}
}

func (r *userRepository) Get(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *userRepository) SetOnline(ctx context.Context, id string, online bool) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("is_online", online).Error
}

func (r *userRepository) ListConfirmedByRole(ctx context.Context, role string) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).
		Where("role = ? AND status = ?", role, models.UserStatusConfirmed).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
