package models

// PrincipalType scopes a region ACL entry.
type PrincipalType string

const (
	PrincipalUser PrincipalType = "user"
	PrincipalRole PrincipalType = "role"
)

// Action is what a caller wants to do with a region.
type Action string

const (
	ActionRead  Action = "read"
	ActionEdit  Action = "edit"
	ActionShare Action = "share"
)

type PermissionSet struct {
	Read  bool `json:"read"`
	Edit  bool `json:"edit"`
	Share bool `json:"share"`
}

// Allows reports whether the set grants action.
func (s PermissionSet) Allows(a Action) bool {
	switch a {
	case ActionRead:
		return s.Read
	case ActionEdit:
		return s.Edit
	case ActionShare:
		return s.Share
	}
	return false
}

// RegionPermission is one ACL entry keyed by (RegionID, PrincipalType, PrincipalID).
type RegionPermission struct {
	RegionID      string
	TenantID      string
	PrincipalType PrincipalType
	PrincipalID   string
	Permissions   PermissionSet
}
