package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Room is a conversation context: a nameless auto-created 1:1 pair or a named group.
type Room struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	Name      *string        `gorm:"size:255" json:"name"`
	GroupImg  *string        `gorm:"size:512" json:"groupImg"`
	CreatorID *string        `gorm:"type:uuid" json:"creatorId"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Messages []Message `gorm:"foreignKey:RoomID" json:"roomMessages,omitempty"`
}

// IsGroup reports whether the room is a named group rather than a 1:1 pair.
func (r Room) IsGroup() bool {
	return r.Name != nil && *r.Name != ""
}

// BeforeCreate assigns a UUID primary key when none was provided.
func (r *Room) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Membership joins one user to one room. The composite index keeps the pair unique.
type Membership struct {
	ID     string `gorm:"type:uuid;primaryKey" json:"id"`
	UserID string `gorm:"type:uuid;not null;uniqueIndex:idx_membership_user_room" json:"userId"`
	RoomID string `gorm:"type:uuid;not null;uniqueIndex:idx_membership_user_room" json:"roomId"`
}

// BeforeCreate assigns a UUID primary key when none was provided.
func (m *Membership) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// RoomEvent kinds appended by the group lifecycle manager. Audit only, never broadcast.
const (
	RoomEventCreated        = "created"
	RoomEventMemberAdded    = "member_added"
	RoomEventMemberRemoved  = "member_removed"
	RoomEventMemberLeft     = "member_left"
	RoomEventRenamed        = "renamed"
	RoomEventAvatarChanged  = "avatar_changed"
	RoomEventRemoved        = "removed"
	RoomEventHistoryCleared = "history_cleared"
)

// RoomEvent records a group lifecycle operation for auditing.
type RoomEvent struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	RoomID    string            `gorm:"type:uuid;index;not null" json:"roomId"`
	ActorID   string            `gorm:"type:uuid" json:"actorId"`
	Kind      string            `gorm:"size:32;not null" json:"kind"`
	Metadata  datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ManagerAssignment links an employee to a manager; each assignment also owns a 1:1 room.
type ManagerAssignment struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	EmployeeID string    `gorm:"type:uuid;not null;uniqueIndex:idx_employee_manager" json:"employeeId"`
	ManagerID  string    `gorm:"type:uuid;not null;uniqueIndex:idx_employee_manager" json:"managerId"`
	RoomID     string    `gorm:"type:uuid;not null" json:"roomId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// BeforeCreate assigns a UUID primary key when none was provided.
func (a *ManagerAssignment) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
