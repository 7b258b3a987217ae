package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/crewtalk-io/crewtalk-api/internal/models"
)

// MembershipRepository maintains the user-room join table. MemberIDs is the
// fan-out read path and must always hit the store: membership can change between
// the start and end of a handler, so the dispatcher never caches it.
type MembershipRepository interface {
	Create(ctx context.Context, membership *models.Membership) error
	Exists(ctx context.Context, userID, roomID string) (bool, error)
	Delete(ctx context.Context, userID, roomID string) (int64, error)
	DeleteByRoom(ctx context.Context, roomID string) error
	MemberIDs(ctx context.Context, roomID string) ([]string, error)
	SharedDirectRoom(ctx context.Context, userA, userB string) (string, error)
	WithTx(tx *gorm.DB) MembershipRepository
}

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository constructs a membership repository backed by GORM.
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) WithTx(tx *gorm.DB) MembershipRepository {
	return &membershipRepository{db: tx}
}

func (r *membershipRepository) Create(ctx context.Context, membership *models.Membership) error {
	return r.db.WithContext(ctx).Create(membership).Error
}

func (r *membershipRepository) Exists(ctx context.Context, userID, roomID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *membershipRepository) Delete(ctx context.Context, userID, roomID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Delete(&models.Membership{})
	return result.RowsAffected, result.Error
}

func (r *membershipRepository) DeleteByRoom(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Delete(&models.Membership{}).Error
}

func (r *membershipRepository) MemberIDs(ctx context.Context, roomID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("room_id = ?", roomID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SharedDirectRoom finds the nameless 1:1 room both users belong to, if any.
func (r *membershipRepository) SharedDirectRoom(ctx context.Context, userA, userB string) (string, error) {
	var roomID string
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Select("memberships.room_id").
		Joins("JOIN memberships other ON other.room_id = memberships.room_id AND other.user_id = ?", userB).
		Joins("JOIN rooms ON rooms.id = memberships.room_id AND rooms.name IS NULL").
		Where("memberships.user_id = ?", userA).
		Limit(1).
		Scan(&roomID).Error
	if err != nil {
		return "", err
	}
	return roomID, nil
}
