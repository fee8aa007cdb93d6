package audit

import (
	"time"

	"github.com/brightcast/brightcast/internal/authz"
)

// TimelineFilters menampung filter dasar untuk log keputusan otorisasi.
// Scope diisi oleh service dari effective role pemanggil.
type TimelineFilters struct {
	Scope       authz.Scope
	From        time.Time
	To          time.Time
	CompanyID   int64
	PrincipalID int64
	Resource    string
	Action      string
	Outcome     string
	Page        int
	PageSize    int
}

// DecisionRow mewakili satu keputusan otorisasi yang tercatat. Resource
// dan Action kosong untuk baris fallback resolver.
type DecisionRow struct {
	At          time.Time `json:"at"`
	PrincipalID int64     `json:"principal_id"`
	Class       string    `json:"class"`
	CompanyID   int64     `json:"company_id,omitempty"`
	Resource    string    `json:"resource,omitempty"`
	Action      string    `json:"action,omitempty"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
}

// ChangeFilters menampung filter untuk riwayat perubahan entitas.
type ChangeFilters struct {
	Scope     authz.Scope
	From      time.Time
	To        time.Time
	CompanyID int64
	ActorID   int64
	Entity    string
	Action    string
	Page      int
	PageSize  int
}

// ChangeRow mewakili satu baris riwayat perubahan dari audit_logs.
type ChangeRow struct {
	At         time.Time      `json:"at"`
	ActorID    int64          `json:"actor_id"`
	ActorClass string         `json:"actor_class"`
	CompanyID  int64          `json:"company_id,omitempty"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entity_id"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// PagingInfo menyimpan metadata pagination berbasis window. Tidak ada
// COUNT terpisah; HasNext berasal dari baris ekstra yang diambil.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []DecisionRow
	Paging PagingInfo
}

// ChangeResult membungkus hasil riwayat perubahan dengan paging.
type ChangeResult struct {
	Rows   []ChangeRow
	Paging PagingInfo
}
