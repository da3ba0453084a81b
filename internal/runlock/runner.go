// Package runlock keeps broadcast runs from overlapping across service instances.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

const (
	DefaultKey          = "notify:broadcast:lock"
	DefaultTTL          = 10 * time.Minute
	DefaultPollInterval = time.Second
)

// ErrLockTimeout is returned when another run held the lock for longer than the lock TTL.
var ErrLockTimeout = errors.New("timed out waiting for the broadcast lock")

var errLockHeld = errors.New("broadcast lock held")

// LockClient is the subset of Redis the lock needs.
type LockClient interface {
	// TryAcquire sets key to owner with a TTL if the key does not exist.
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release deletes key if it still holds owner.
	Release(ctx context.Context, key, owner string) error
}

// Config controls the lock.
type Config struct {
	Key          string
	TTL          time.Duration
	PollInterval time.Duration
}

// LockedRunner is a Decorator that holds a shared Redis lock for the whole
// of each run. The lock only orders runs; it never changes what a run selects.
type LockedRunner struct {
	next   broadcast.Runner
	client LockClient
	cfg    Config
	logger *slog.Logger
}

var _ broadcast.Runner = (*LockedRunner)(nil)

func NewLockedRunner(next broadcast.Runner, client LockClient, cfg Config, logger *slog.Logger) *LockedRunner {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	// A zero TTL would make SETNX keys that never expire.
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &LockedRunner{
		next:   next,
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "runlock"),
	}
}

func (r *LockedRunner) Run(ctx context.Context, event broadcast.Event) (*broadcast.Report, error) {
	owner := uuid.NewString()

	held, err := r.acquire(ctx, owner)
	if err != nil {
		return nil, err
	}
	if held {
		defer r.release(ctx, owner)
	}

	return r.next.Run(ctx, event)
}

// acquire waits for the lock. A Redis failure is logged and reported as not
// held; the run goes ahead, still serialized within this instance.
func (r *LockedRunner) acquire(ctx context.Context, owner string) (bool, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.PollInterval
	policy.MaxInterval = r.cfg.PollInterval
	policy.RandomizationFactor = 0.2
	policy.MaxElapsedTime = r.cfg.TTL

	var redisErr error
	operation := func() error {
		ok, err := r.client.TryAcquire(ctx, r.cfg.Key, owner, r.cfg.TTL)
		if err != nil {
			redisErr = err
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case redisErr != nil:
		r.logger.Warn("Broadcast lock unavailable, running without it", "err", redisErr)
		return false, nil
	default:
		return false, fmt.Errorf("%w (key %s, ttl %s)", ErrLockTimeout, r.cfg.Key, r.cfg.TTL)
	}
}

func (r *LockedRunner) release(ctx context.Context, owner string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.client.Release(releaseCtx, r.cfg.Key, owner); err != nil {
		r.logger.Warn("Failed to release broadcast lock; it expires with its TTL", "err", err, "ttl", r.cfg.TTL)
	}
}
