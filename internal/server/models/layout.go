package models

import "time"

// Layout is the dashboard a region belongs to. Only the fields needed for
// access checks are modelled here.
type Layout struct {
	ID        string
	TenantID  string
	UserID    string
	Name      string
	IsShared  bool
	CreatedAt time.Time
}

// Principal is the verified caller supplied by the auth layer.
type Principal struct {
	UserID   string   `json:"userId"`
	TenantID string   `json:"tenantId"`
	Roles    []string `json:"roles,omitempty"`
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleAdmin may access every layout of its tenant.
const RoleAdmin = "admin"
