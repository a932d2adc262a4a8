package users

import (
	"strings"
	"time"
)

// User is a registered account. Email addresses are stored lowercase and are
// unique case-insensitively.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:36;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:128;not null"`
	Verified     bool      `gorm:"column:verified;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Public is the wire-safe view of a user, without the credential hash.
type Public struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// Public returns the user's wire-safe view.
func (u User) Public() Public {
	return Public{ID: u.ID, Email: u.Email, Verified: u.Verified}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
