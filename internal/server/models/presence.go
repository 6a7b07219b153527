package models

import "time"

// Presence is ephemeral per-session editing state, unique by
// (RegionID, UserID, SessionID).
type Presence struct {
	RegionID  string    `json:"regionId"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	TenantID  string    `json:"tenantId"`
	IsEditing bool      `json:"isEditing"`
	LastSeen  time.Time `json:"lastSeen"`
}

// IdempotencyRecord stores the first successful response for a key. Until
// the response is recorded the row is a reservation held by the request
// that is running.
type IdempotencyRecord struct {
	Key          string
	UserID       string
	TenantID     string
	Method       string
	Fingerprint  []byte
	ResponseBody []byte
	StatusCode   int
	CreatedAt    time.Time
	ExpiresAt    time.Time
	CompletedAt  *time.Time
}

// Pending reports whether the record is a reservation without a response.
func (r *IdempotencyRecord) Pending() bool {
	return r.CompletedAt == nil
}
