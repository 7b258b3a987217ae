package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/crewtalk-io/crewtalk-api/internal/models"
)

// RoomEventRepository records group lifecycle operations for auditing.
type RoomEventRepository interface {
	Append(ctx context.Context, event *models.RoomEvent) error
	ListByRoom(ctx context.Context, roomID string, limit int) ([]models.RoomEvent, error)
	WithTx(tx *gorm.DB) RoomEventRepository
}

type roomEventRepository struct {
	db *gorm.DB
}

// NewRoomEventRepository constructs a room event repository backed by GORM.
func NewRoomEventRepository(db *gorm.DB) RoomEventRepository {
	return &roomEventRepository{db: db}
}

func (r *roomEventRepository) WithTx(tx *gorm.DB) RoomEventRepository {
	return &roomEventRepository{db: tx}
}

func (r *roomEventRepository) Append(ctx context.Context, event *models.RoomEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *roomEventRepository) ListByRoom(ctx context.Context, roomID string, limit int) ([]models.RoomEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var events []models.RoomEvent
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
