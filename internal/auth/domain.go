package auth

import "time"

// Roles. Owners manage the catalog and see cost prices; employees run the
// register.
const (
	RoleOwner    = "owner"
	RoleEmployee = "employee"
)

// User is a staff account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}
