// Package presence coordinates who is viewing and who is editing each region.
//
// A session moves through absent -> viewing -> editing -> absent. Rows older
// than the TTL count as absent and are swept on every presence read, so an
// abandoned edit lock is reclaimed by time alone.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/logging"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	presencerepo "github.com/cseek11/VeroSuite-sub002/internal/server/repositories/presence"
)

// DefaultTTL is how long a presence row stays live without a heartbeat.
const DefaultTTL = 5 * time.Minute

// Session identifies one connection of one user.
type Session struct {
	TenantID  string
	UserID    string
	SessionID string
}

// LockResult is the answer to an edit-lock request.
type LockResult struct {
	RegionID string `json:"regionId"`
	Success  bool   `json:"success"`
	LockedBy string `json:"lockedBy,omitempty"`
}

type Options struct {
	TTL   time.Duration
	Clock func() time.Time
}

type Coordinator struct {
	repo presencerepo.Repository
	ttl  time.Duration
	now  func() time.Time
	log  logging.Logger
}

func NewCoordinator(repo presencerepo.Repository, opts Options, log logging.Logger) *Coordinator {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Coordinator{repo: repo, ttl: opts.TTL, now: opts.Clock, log: log.With("module", "presence")}
}

// TTL returns the staleness window.
func (c *Coordinator) TTL() time.Duration { return c.ttl }

func (c *Coordinator) cutoff() time.Time { return c.now().Add(-c.ttl) }

// sweep drops stale rows of one region. Failures are logged only; reads
// filter stale rows anyway.
func (c *Coordinator) sweep(ctx context.Context, regionID string) {
	n, err := c.repo.DeleteStale(ctx, regionID, c.cutoff())
	if err != nil {
		c.log.Warn(ctx, "presence sweep failed", "region_id", regionID, "error", err)
		return
	}
	if n > 0 {
		c.log.Debug(ctx, "swept stale presence", "region_id", regionID, "rows", n)
	}
}

// Sweep drops stale rows across all regions and reports how many went.
func (c *Coordinator) Sweep(ctx context.Context) (int64, error) {
	return c.repo.DeleteStale(ctx, "", c.cutoff())
}

func (c *Coordinator) upsert(ctx context.Context, s Session, regionID string, editing bool) (*models.Presence, error) {
	if regionID == "" {
		return nil, common.BadRequest(common.CodeInvalidRequest, "regionId is required")
	}
	p := &models.Presence{
		RegionID: regionID, UserID: s.UserID, SessionID: s.SessionID, TenantID: s.TenantID,
		IsEditing: editing, LastSeen: c.now(),
	}
	if err := c.repo.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Join marks the session as viewing the region and returns who is there.
func (c *Coordinator) Join(ctx context.Context, s Session, regionID string) ([]*models.Presence, error) {
	if _, err := c.upsert(ctx, s, regionID, false); err != nil {
		return nil, err
	}
	return c.ActivePresence(ctx, s.TenantID, regionID)
}

func (c *Coordinator) Leave(ctx context.Context, s Session, regionID string) error {
	return c.repo.Delete(ctx, s.TenantID, regionID, s.UserID, s.SessionID)
}

// UpdatePresence toggles between viewing and editing.
func (c *Coordinator) UpdatePresence(ctx context.Context, s Session, regionID string, editing bool) (*models.Presence, error) {
	return c.upsert(ctx, s, regionID, editing)
}

// AcquireLock grants the edit lock unless a live row of another user is
// already editing. Sessions of the same user share the lock.
func (c *Coordinator) AcquireLock(ctx context.Context, s Session, regionID string) (LockResult, error) {
	res := LockResult{RegionID: regionID}
	c.sweep(ctx, regionID)

	holder, err := c.repo.FindEditor(ctx, s.TenantID, regionID, s.UserID, c.cutoff())
	switch {
	case err == nil:
		res.LockedBy = holder.UserID
		return res, nil
	case !errors.Is(err, common.ErrorNotFound):
		return res, err
	}

	if _, err := c.upsert(ctx, s, regionID, true); err != nil {
		return res, err
	}
	res.Success = true
	return res, nil
}

// ReleaseLock drops back to viewing.
func (c *Coordinator) ReleaseLock(ctx context.Context, s Session, regionID string) error {
	_, err := c.upsert(ctx, s, regionID, false)
	return err
}

// Heartbeat refreshes lastSeen on every row of the session.
func (c *Coordinator) Heartbeat(ctx context.Context, s Session) (int64, error) {
	return c.repo.Touch(ctx, s.TenantID, s.UserID, s.SessionID, c.now())
}

// Disconnect clears the session and returns the regions it was present in.
func (c *Coordinator) Disconnect(ctx context.Context, s Session) ([]string, error) {
	return c.repo.DeleteSession(ctx, s.TenantID, s.UserID, s.SessionID)
}

// ActivePresence lists live rows of the region, newest first.
func (c *Coordinator) ActivePresence(ctx context.Context, tenantID, regionID string) ([]*models.Presence, error) {
	c.sweep(ctx, regionID)
	return c.repo.ListActive(ctx, tenantID, regionID, c.cutoff())
}
