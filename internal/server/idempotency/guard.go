// Package idempotency replays the recorded response of a mutating request
// when a client retries it with the same key.
package idempotency

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/logging"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	idemrepo "github.com/cseek11/VeroSuite-sub002/internal/server/repositories/idempotency"
	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultTTL is how long a recorded response is replayed.
	DefaultTTL = 24 * time.Hour
	// DefaultLockTimeout is how long a reservation holds off other requests
	// before it is considered abandoned.
	DefaultLockTimeout = time.Minute
	// DefaultWait is how long a retry waits for an in-flight request with
	// the same key to record its response.
	DefaultWait = 5 * time.Second
	// DefaultPollInterval paces those waits.
	DefaultPollInterval = 50 * time.Millisecond
)

// Response is what gets recorded and replayed.
type Response struct {
	Body       []byte
	StatusCode int
}

type Options struct {
	TTL          time.Duration
	LockTimeout  time.Duration
	Wait         time.Duration
	PollInterval time.Duration
	Clock        func() time.Time
}

// Guard looks up and records responses. Store failures never fail the
// caller: the request simply proceeds as new.
type Guard struct {
	repo        idemrepo.Repository
	ttl         time.Duration
	lockTimeout time.Duration
	wait        time.Duration
	poll        time.Duration
	now         func() time.Time
	log         logging.Logger
}

func NewGuard(repo idemrepo.Repository, opts Options, log logging.Logger) *Guard {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Wait <= 0 {
		opts.Wait = DefaultWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Guard{
		repo:        repo,
		ttl:         opts.TTL,
		lockTimeout: opts.LockTimeout,
		wait:        opts.Wait,
		poll:        opts.PollInterval,
		now:         opts.Clock,
		log:         log.With("module", "idempotency"),
	}
}

// Fingerprint is the BLAKE2b-256 digest of method and request body.
func Fingerprint(method string, body []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write(body)
	return h.Sum(nil)
}

// Acquire returns the recorded response for key, or nil once the caller holds
// the key's reservation and should run the request. While another request
// with the same key is running Acquire waits for its response and gives up
// with a Conflict. Reusing a key for a different request is a BadRequest.
func (g *Guard) Acquire(ctx context.Context, key string, p models.Principal, method string, body []byte) (*Response, error) {
	if key == "" {
		return nil, nil
	}
	fp := Fingerprint(method, body)
	polls := int(g.wait / g.poll)
	for attempt := 0; ; attempt++ {
		now := g.now()
		rec, err := g.repo.Get(ctx, key, p.UserID, p.TenantID, now)
		switch {
		case errors.Is(err, common.ErrorNotFound):
		case err != nil:
			g.log.Warn(ctx, "idempotency lookup failed, treating request as new", "method", method, "error", err)
			return nil, nil
		case rec.Method != method || (len(rec.Fingerprint) > 0 && !bytes.Equal(rec.Fingerprint, fp)):
			return nil, common.BadRequest(common.CodeIdempotencyKeyReused, "idempotency key was used for a different request")
		case !rec.Pending():
			return &Response{Body: rec.ResponseBody, StatusCode: rec.StatusCode}, nil
		}

		reserved, err := g.repo.Reserve(ctx, &models.IdempotencyRecord{
			Key: key, UserID: p.UserID, TenantID: p.TenantID, Method: method, Fingerprint: fp,
			CreatedAt: now, ExpiresAt: now.Add(g.ttl),
		}, now.Add(-g.lockTimeout))
		if err != nil {
			g.log.Warn(ctx, "idempotency reservation failed, treating request as new", "method", method, "error", err)
			return nil, nil
		}
		if reserved {
			return nil, nil
		}

		if attempt >= polls {
			return nil, common.Conflict(common.CodeIdempotencyInProgress, "a request with this idempotency key is still in progress")
		}
		t := time.NewTimer(g.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// Release gives up the caller's reservation so a retry runs the request
// again. Called when the request failed and nothing is recorded.
func (g *Guard) Release(ctx context.Context, key string, p models.Principal) {
	if key == "" {
		return
	}
	if err := g.repo.Release(ctx, key, p.UserID, p.TenantID); err != nil {
		g.log.Warn(ctx, "idempotency release failed", "error", err)
	}
}

// Record stores resp for key. The first recorded response wins.
func (g *Guard) Record(ctx context.Context, key string, p models.Principal, method string, body []byte, resp Response) {
	if key == "" {
		return
	}
	now := g.now()
	inserted, err := g.repo.Insert(ctx, &models.IdempotencyRecord{
		Key: key, UserID: p.UserID, TenantID: p.TenantID, Method: method,
		Fingerprint: Fingerprint(method, body), ResponseBody: resp.Body, StatusCode: resp.StatusCode,
		CreatedAt: now, ExpiresAt: now.Add(g.ttl), CompletedAt: &now,
	})
	if err != nil {
		g.log.Warn(ctx, "idempotency record failed", "method", method, "error", err)
		return
	}
	if !inserted {
		g.log.Debug(ctx, "idempotency key already recorded", "method", method)
	}
}

// Purge drops expired records.
func (g *Guard) Purge(ctx context.Context) (int64, error) {
	return g.repo.DeleteExpired(ctx, g.now())
}
