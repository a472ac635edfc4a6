package identity

import (
	"strings"
	"time"
)

// Role separates administrators from regular clients.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

func (r Role) String() string {
	return string(r)
}

// Account is one authenticated principal known to the system.
type Account struct {
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Role        Role      `gorm:"column:role;size:16;not null;default:client"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "accounts"
}

// IsAdmin reports whether the account may act as an administrator.
func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
