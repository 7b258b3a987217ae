package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/crewtalk-io/crewtalk-api/internal/models"
)

// RoomRepository persists rooms and serves the canonical room-with-messages re-read
// every mutating event ends with.
type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	Get(ctx context.Context, id string) (models.Room, error)
	GetWithMessages(ctx context.Context, id, filter string) (models.Room, error)
	UpdateName(ctx context.Context, id, name string) error
	UpdateGroupImg(ctx context.Context, id, url string) error
	HardDelete(ctx context.Context, id string) error
	WithTx(tx *gorm.DB) RoomRepository
}

type roomRepository struct {
	db *gorm.DB
}

// NewRoomRepository constructs a room repository backed by GORM.
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) WithTx(tx *gorm.DB) RoomRepository {
	return &roomRepository{db: tx}
}

func (r *roomRepository) Create(ctx context.Context, room *models.Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *roomRepository) Get(ctx context.Context, id string) (models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// GetWithMessages loads the room with its message stream ordered by creation time
// ascending, authors joined. A non-empty filter narrows the stream with a
// case-insensitive substring match, the way the client-side search works.
func (r *roomRepository) GetWithMessages(ctx context.Context, id, filter string) (models.Room, error) {
	var room models.Room

	query := r.db.WithContext(ctx).Preload("Messages", func(db *gorm.DB) *gorm.DB {
		db = db.Order("created_at ASC").Preload("Author")
		if filter != "" {
			db = db.Where("LOWER(text) LIKE ?", "%"+strings.ToLower(filter)+"%")
		}
		return db
	})

	if err := query.First(&room, "id = ?", id).Error; err != nil {
		return models.Room{}, err
	}
	return room, nil
}

func (r *roomRepository) UpdateName(ctx context.Context, id, name string) error {
	return r.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ?", id).
		Update("name", name).Error
}

func (r *roomRepository) UpdateGroupImg(ctx context.Context, id, url string) error {
	return r.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ?", id).
		Update("group_img", url).Error
}

// HardDelete removes the room row permanently; memberships and messages are
// cascaded by the callers inside the same transaction.
func (r *roomRepository) HardDelete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Unscoped().Delete(&models.Room{}, "id = ?", id).Error
}
