package content

import (
	"time"

	"github.com/google/uuid"

	"github.com/brightcast/brightcast/internal/authz"
)

// Moderation states. Editors draft and submit, approvers decide.
// Editing an item that already entered review sends it back to draft.
const (
	StatusDraft    = "draft"
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Media kinds the players understand.
const (
	KindImage  = "image"
	KindVideo  = "video"
	KindHTML   = "html"
	KindStream = "stream"
)

// Item is a piece of signage content owned by one company. Visibility
// and the allow-list control which other companies may use it; Status
// controls whether devices may play it.
type Item struct {
	ID         uuid.UUID
	CompanyID  int64
	CreatedBy  int64
	Title      string
	Kind       string
	URL        string
	Status     string
	Visibility authz.Visibility
	Shared     []int64
	ReviewNote string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (i Item) OwnerCompany() int64               { return i.CompanyID }
func (i Item) VisibilityLevel() authz.Visibility { return i.Visibility }
func (i Item) SharedWith() []int64               { return i.Shared }

// Distribution assigns an item to a device playlist. The device's
// company owns the assignment, not the content owner.
type Distribution struct {
	ContentID  uuid.UUID
	DeviceID   int64
	DeviceName string
	CompanyID  int64
	CreatedBy  int64
	CreatedAt  time.Time
}

// TargetDevice is the row shape distribution targeting works with.
type TargetDevice struct {
	ID        int64
	CompanyID int64
	Active    bool
}

// CreateContentRequest registers a new draft. CompanyID is accepted
// only from super users; company users always create in their own
// tenant.
type CreateContentRequest struct {
	Title     string `json:"title" validate:"required,min=2,max=160"`
	Kind      string `json:"kind" validate:"required,oneof=image video html stream"`
	URL       string `json:"url" validate:"required,url,max=2048"`
	CompanyID int64  `json:"company_id,omitempty" validate:"omitempty,min=1"`
}

// UpdateContentRequest changes the item fields an editor may touch.
type UpdateContentRequest struct {
	Title *string `json:"title,omitempty" validate:"omitempty,min=2,max=160"`
	Kind  *string `json:"kind,omitempty" validate:"omitempty,oneof=image video html stream"`
	URL   *string `json:"url,omitempty" validate:"omitempty,url,max=2048"`
}

// SetVisibilityRequest replaces the sharing settings. SharedWith is
// meaningful only when visibility is "shared".
type SetVisibilityRequest struct {
	Visibility string  `json:"visibility" validate:"required,oneof=private shared public"`
	SharedWith []int64 `json:"shared_with,omitempty" validate:"omitempty,max=50,dive,min=1"`
}

// ReviewRequest carries the optional approval note.
type ReviewRequest struct {
	Note string `json:"note,omitempty" validate:"omitempty,max=500"`
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// DistributeRequest assigns approved content to devices.
type DistributeRequest struct {
	DeviceIDs []int64 `json:"device_ids" validate:"required,min=1,max=100,dive,min=1"`
}

// ListContentRequest filters the management listing. CreatedBy narrows
// to one author inside the already-scoped set.
type ListContentRequest struct {
	Scope     authz.Scope
	CompanyID int64
	CreatedBy int64
	Status    string
	Kind      string
	Search    string
	Page      int
	PerPage   int
}

// LibraryRequest filters the cross-company library of approved items.
// CompanyID zero means a super user browsing everything.
type LibraryRequest struct {
	CompanyID int64
	Kind      string
	Search    string
	Page      int
	PerPage   int
}
