package services

import (
	"context"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

// CheckRegionPermission reports whether p may perform action on the region.
// The owner always may; anyone else needs an ACL entry for their user id or
// one of their roles that grants the action.
func (s *RegionService) CheckRegionPermission(ctx context.Context, p models.Principal, regionID string, action models.Action) (bool, error) {
	r, err := s.findRegion(ctx, s.repomanager.Regions(s.repomanager.Conn()), regionID, p.TenantID)
	if err != nil {
		return false, err
	}
	return s.allowed(ctx, p, r, action)
}

func (s *RegionService) allowed(ctx context.Context, p models.Principal, r *models.Region, action models.Action) (bool, error) {
	if r.UserID == p.UserID {
		return true, nil
	}
	entries, err := s.repomanager.Permissions(s.repomanager.Conn()).ListForPrincipal(ctx, p.TenantID, r.ID, p.UserID, p.Roles)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Permissions.Allows(action) {
			return true, nil
		}
	}
	return false, nil
}

func (s *RegionService) requirePermission(ctx context.Context, p models.Principal, r *models.Region, action models.Action) error {
	ok, err := s.allowed(ctx, p, r, action)
	if err != nil {
		return err
	}
	if !ok {
		return common.Forbidden("no " + string(action) + " permission on region")
	}
	return nil
}

// GrantRegionPermission stores an ACL entry. Only the region owner or a
// principal holding share permission may grant.
func (s *RegionService) GrantRegionPermission(ctx context.Context, p models.Principal, perm models.RegionPermission) error {
	r, err := s.findRegion(ctx, s.repomanager.Regions(s.repomanager.Conn()), perm.RegionID, p.TenantID)
	if err != nil {
		return err
	}
	if err := s.requirePermission(ctx, p, r, models.ActionShare); err != nil {
		return err
	}
	if perm.PrincipalType != models.PrincipalUser && perm.PrincipalType != models.PrincipalRole {
		return common.BadRequest(common.CodeInvalidRequest, "principalType must be user or role")
	}
	if perm.PrincipalID == "" {
		return common.BadRequest(common.CodeInvalidRequest, "principalId is required")
	}
	perm.TenantID = p.TenantID
	return s.repomanager.Permissions(s.repomanager.Conn()).Upsert(ctx, &perm)
}
