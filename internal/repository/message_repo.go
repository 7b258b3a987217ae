package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/crewtalk-io/crewtalk-api/internal/models"
)

// MessageRepository persists the ordered message stream per room.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	Get(ctx context.Context, id string) (models.Message, error)
	Update(ctx context.Context, message *models.Message) error
	ListByRoom(ctx context.Context, roomID string) ([]models.Message, error)
	ListByRoomBefore(ctx context.Context, roomID string, before time.Time, limit int) ([]models.Message, error)
	ListUnread(ctx context.Context, roomID, excludeAuthorID string) ([]models.Message, error)
	MarkRead(ctx context.Context, ids []string) error
	DeleteByRoom(ctx context.Context, roomID string) error
	WithTx(tx *gorm.DB) MessageRepository
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) WithTx(tx *gorm.DB) MessageRepository {
	return &messageRepository{db: tx}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) Get(ctx context.Context, id string) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, "id = ?", id).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) Update(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Save(message).Error
}

func (r *messageRepository) ListByRoom(ctx context.Context, roomID string) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Preload("Author").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ListByRoomBefore serves the REST history endpoint with cursor pagination,
// returned in chronological order ascending for clients.
func (r *messageRepository) ListByRoomBefore(ctx context.Context, roomID string, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Where("room_id = ?", roomID)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var messages []models.Message
	if err := query.Order("created_at DESC").Limit(limit).Preload("Author").Find(&messages).Error; err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// ListUnread returns other authors' unread messages newest first, the reverse
// of the room stream ordering.
func (r *messageRepository) ListUnread(ctx context.Context, roomID, excludeAuthorID string) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND author_id <> ? AND is_new = ?", roomID, excludeAuthorID, true).
		Order("created_at DESC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id IN ?", ids).
		Update("is_new", false).Error
}

// DeleteByRoom removes every message of a room permanently; clearing history is
// a hard delete, memberships stay untouched.
func (r *messageRepository) DeleteByRoom(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).Unscoped().
		Where("room_id = ?", roomID).
		Delete(&models.Message{}).Error
}
