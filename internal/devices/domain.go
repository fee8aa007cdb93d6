package devices

import (
	"time"

	"github.com/brightcast/brightcast/internal/authz"
)

// Device is a signage player bound to a host company. Only the SHA-256
// of its API key is stored; the plaintext leaves the system exactly
// once, at registration or rotation.
type Device struct {
	ID         int64
	CompanyID  int64
	Name       string
	Location   string
	KeyPrefix  string
	KeyVersion int64
	Active     bool
	Online     bool
	LastSeenAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Status collapses enablement and presence into one word for listings.
// Revoked wins over presence: a disabled device that still heartbeats
// stays revoked.
func (d Device) Status() string {
	switch {
	case !d.Active:
		return "revoked"
	case d.Online:
		return "active"
	default:
		return "offline"
	}
}

// RegisterDeviceRequest creates a device. CompanyID is accepted only
// from super users.
type RegisterDeviceRequest struct {
	Name      string `json:"name" validate:"required,min=2,max=120"`
	Location  string `json:"location,omitempty" validate:"omitempty,max=160"`
	CompanyID int64  `json:"company_id,omitempty" validate:"omitempty,min=1"`
}

// UpdateDeviceRequest changes the descriptive fields.
type UpdateDeviceRequest struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=2,max=120"`
	Location *string `json:"location,omitempty" validate:"omitempty,max=160"`
}

// ListDevicesRequest filters the device listing. Status accepts the
// rendered states: active, offline, revoked.
type ListDevicesRequest struct {
	Scope     authz.Scope
	CompanyID int64
	Status    string
	Search    string
	Page      int
	PerPage   int
}
