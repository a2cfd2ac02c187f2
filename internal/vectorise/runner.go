package vectorise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/kafka"
	pkgredis "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/redis"
)

// ErrBusy is returned by RunOnce when another run holds the runner.
var ErrBusy = errors.New("sync already running")

// LockKey is the Redis key guarding the single synchronizer runner.
const LockKey = "vectorise:lock"

// Syncer is the unit of work the Runner schedules.
type Syncer interface {
	Sync(ctx context.Context, limit int) (int, error)
}

// Locker grants one runner at a time across processes. Acquire returns
// ErrBusy when the lock is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// RedisLocker implements Locker with a Redis SETNX lock.
type RedisLocker struct {
	client *pkgredis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLocker locks key for at most ttl per run.
func NewRedisLocker(client *pkgredis.Client, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context) (func(context.Context) error, error) {
	lock, err := l.client.TryLock(ctx, l.key, l.ttl)
	if errors.Is(err, pkgredis.ErrLockHeld) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

// Runner triggers sync runs when enough upserts have been announced or when
// the interval elapses, whichever comes first. Runs never overlap within a
// process; a Locker extends that across processes.
type Runner struct {
	syncer    Syncer
	locker    Locker
	batch     int
	threshold int64
	interval  time.Duration

	mu      sync.Mutex
	pending atomic.Int64
	kick    chan struct{}
	logger  *slog.Logger
}

// NewRunner builds a Runner from sync config. locker may be nil.
func NewRunner(s Syncer, locker Locker, cfg config.SyncConfig) *Runner {
	threshold := int64(cfg.TriggerThreshold)
	if threshold <= 0 {
		threshold = 1
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Runner{
		syncer:    s,
		locker:    locker,
		batch:     cfg.BatchLimit,
		threshold: threshold,
		interval:  interval,
		kick:      make(chan struct{}, 1),
		logger:    slog.Default().With("component", "sync-runner"),
	}
}

// Notify records one announced upsert and requests a run once the
// threshold is reached.
func (r *Runner) Notify() {
	if r.pending.Add(1) >= r.threshold {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Pending is the number of upserts announced since the last run started.
func (r *Runner) Pending() int64 {
	return r.pending.Load()
}

// HandleMessage is a kafka.MessageHandler for listing.upserted events.
func (r *Runner) HandleMessage(_ context.Context, _ []byte, value []byte) error {
	ev, err := kafka.DecodeJSON[listing.UpsertedEvent](value)
	if err != nil {
		return fmt.Errorf("decoding upserted event: %w", err)
	}
	if ev.ListingID == "" {
		r.logger.Warn("upserted event without listing id, ignoring")
		return nil
	}
	r.Notify()
	return nil
}

// Run blocks until ctx is cancelled, syncing on every trigger.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("sync runner started", "interval", r.interval, "threshold", r.threshold)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sync runner stopping")
			return nil
		case <-ticker.C:
			r.trigger(ctx, "interval")
		case <-r.kick:
			r.trigger(ctx, "threshold")
		}
	}
}

func (r *Runner) trigger(ctx context.Context, reason string) {
	n, err := r.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		r.logger.Info("sync skipped, another run holds the lock", "reason", reason)
	case err != nil:
		r.logger.Error("sync run failed", "reason", reason, "error", err)
	default:
		r.logger.Info("sync run finished", "reason", reason, "embedded", n)
	}
}

// RunOnce performs a single sync run if no other run is active.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	if !r.mu.TryLock() {
		return 0, ErrBusy
	}
	defer r.mu.Unlock()

	if r.locker != nil {
		release, err := r.locker.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			if err := release(rctx); err != nil {
				r.logger.Warn("releasing sync lock", "error", err)
			}
		}()
	}

	r.pending.Store(0)
	return r.syncer.Sync(ctx, r.batch)
}
