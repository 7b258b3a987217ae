package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User status values mirrored from the account lifecycle.
const (
	UserStatusPending   = "Pending"
	UserStatusConfirmed = "Confirmed"
	UserStatusRejected  = "Rejected"
)

// Role names carried in the identity token.
const (
	RoleAdmin    = "Admin"
	RoleManager  = "Manager"
	RoleEmployee = "Employee"
)

// User mirrors the account row; authentication itself happens in the token service,
// this row only carries the display data joined onto messages.
type User struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string         `gorm:"size:255;not null" json:"name"`
	Surname   string         `gorm:"size:255;not null" json:"surname"`
	Email     string         `gorm:"size:255;uniqueIndex;not null" json:"email"`
	AvatarImg string         `gorm:"size:512" json:"avatarImg"`
	Color     string         `gorm:"size:32" json:"color"`
	Role      string         `gorm:"size:32;index" json:"role"`
	Status    string         `gorm:"size:32;default:Pending" json:"status"`
	IsOnline  bool           `gorm:"not null;default:false" json:"isOnline"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// FullName joins name and surname the way action messages reference users.
func (u User) FullName() string {
	return u.Name + " " + u.Surname
}

// BeforeCreate assigns a UUID primary key when none was provided.
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
