package domain

import "time"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleOperator
}

type User struct {
	ID           int64         `json:"id" db:"id"`
	Username     string        `json:"username" db:"username"`
	PasswordHash string        `json:"-" db:"password_hash"`
	Role         Role          `json:"role" db:"role"`
	Permissions  PermissionSet `json:"permissions" db:"permissions"`
	FullName     *string       `json:"full_name" db:"full_name"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// Can reports whether the user holds p. Admins hold everything regardless of
// the stored set.
func (u User) Can(p Permission) bool {
	if u.Role == RoleAdmin {
		return true
	}
	return u.Permissions.Has(p)
}

func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Role: u.Role, FullName: u.FullName}
}

type UserSummary struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Role     Role    `json:"role"`
	FullName *string `json:"full_name"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        UserSummary `json:"user"`
}

type UserCreateRequest struct {
	Username    string   `json:"username" validate:"required,min=3,max=80"`
	Password    string   `json:"password" validate:"required,min=6,max=72"`
	Role        Role     `json:"role" validate:"omitempty,oneof=admin operator"`
	FullName    *string  `json:"full_name" validate:"omitempty,max=255"`
	Permissions []string `json:"permissions"`
}

type UserUpdateRequest struct {
	Username    Optional[string]   `json:"username,omitzero"`
	FullName    Optional[string]   `json:"full_name,omitzero"`
	Role        Optional[Role]     `json:"role,omitzero"`
	Password    Optional[string]   `json:"password,omitzero"`
	Permissions Optional[[]string] `json:"permissions,omitzero"`
}
