package companies

import (
	"time"

	"github.com/brightcast/brightcast/internal/authz"
)

// Default quotas applied when a company is created without explicit limits.
const (
	DefaultMaxUsers   = 25
	DefaultMaxDevices = 100
	DefaultMaxContent = 1000
)

// Company is a tenant on the platform. Type decides which role grants
// apply to its users; Active false suspends every principal bound to it.
type Company struct {
	ID         int64
	Name       string
	Type       authz.CompanyType
	Active     bool
	MaxUsers   int
	MaxDevices int
	MaxContent int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Limits groups the per-company quotas.
type Limits struct {
	MaxUsers   int `json:"max_users" validate:"required,min=1,max=100000"`
	MaxDevices int `json:"max_devices" validate:"min=0,max=100000"`
	MaxContent int `json:"max_content" validate:"required,min=1,max=1000000"`
}

// CreateCompanyRequest carries the fields for registering a tenant.
// Zero limits fall back to the defaults.
type CreateCompanyRequest struct {
	Name       string `json:"name" validate:"required,min=2,max=120"`
	Type       string `json:"type" validate:"required,oneof=HOST ADVERTISER"`
	MaxUsers   int    `json:"max_users" validate:"omitempty,min=1,max=100000"`
	MaxDevices int    `json:"max_devices" validate:"omitempty,min=1,max=100000"`
	MaxContent int    `json:"max_content" validate:"omitempty,min=1,max=1000000"`
}

// UpdateCompanyRequest carries the fields a company admin may change.
// The tenant type is fixed at creation; changing it would silently
// rewrite every user's effective permissions.
type UpdateCompanyRequest struct {
	Name *string `json:"name" validate:"omitempty,min=2,max=120"`
}

// ListCompaniesRequest filters the company listing.
type ListCompaniesRequest struct {
	Scope   authz.Scope
	Type    string
	Active  *bool
	Search  string
	Page    int
	PerPage int
}
