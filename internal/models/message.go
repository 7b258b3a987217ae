package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message belongs to exactly one room and one author. Action messages share the
// ordered stream with user messages; ordering is by creation time ascending.
type Message struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	AuthorID  string         `gorm:"type:uuid;index;not null" json:"authorId"`
	RoomID    string         `gorm:"type:uuid;index;not null" json:"roomId"`
	Text      string         `gorm:"type:text;not null" json:"text"`
	IsNew     bool           `gorm:"not null;default:true" json:"isNew"`
	IsEdit    bool           `gorm:"not null;default:false" json:"isEdit"`
	IsAction  bool           `gorm:"not null;default:false" json:"isAction"`
	CreatedAt time.Time      `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Author *User `gorm:"foreignKey:AuthorID" json:"sentAuthorMessage,omitempty"`
}

// BeforeCreate assigns a UUID primary key when none was provided.
func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
