package users

import (
	"time"

	"github.com/brightcast/brightcast/internal/authz"
)

// User is a company-bound account. Super users are platform accounts
// provisioned outside this module and never appear in its listings.
type User struct {
	ID          int64
	Email       string
	Name        string
	Role        string
	RoleVersion int64
	CompanyID   int64
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateUserRequest carries the fields for provisioning a user. Company
// admins create users in their own tenant; super users must name one.
type CreateUserRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Name      string `json:"name" validate:"required,min=2,max=120"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	Role      string `json:"role" validate:"required,oneof=admin reviewer editor viewer"`
	CompanyID int64  `json:"company_id" validate:"omitempty,min=1"`
}

// UpdateUserRequest carries profile fields.
type UpdateUserRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=2,max=120"`
	Email *string `json:"email" validate:"omitempty,email"`
}

// ChangeRoleRequest reassigns a role. RoleVersion is the version the
// caller read; a mismatch means the role changed concurrently and the
// request is refused.
type ChangeRoleRequest struct {
	Role        string `json:"role" validate:"required,oneof=admin reviewer editor viewer"`
	RoleVersion int64  `json:"role_version" validate:"min=0"`
}

// ListUsersRequest filters the user listing.
type ListUsersRequest struct {
	Scope     authz.Scope
	CompanyID int64
	Role      string
	Active    *bool
	Search    string
	Page      int
	PerPage   int
}
