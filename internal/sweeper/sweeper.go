// Package sweeper periodically removes TTL-expired KV entries.
package sweeper

import (
	"context"
	"time"

	"kvstore.dev/kvstore/internal/cache"
	"kvstore.dev/kvstore/internal/db"
	"kvstore.dev/kvstore/internal/logging"
)

const lockName = "expiry-sweeper"

// Sweeper runs on a fixed interval, optionally coordinated across
// processes via a distributed lock so only one instance sweeps at a time.
type Sweeper struct {
	db       *db.DB
	cache    cache.Cache
	log      *logging.Logger
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Sweeper. cache may be a RedisCache (multi-instance
// deployments) or a LocalCache (single instance — lock coordination is a
// no-op there since there is nothing else to coordinate with).
func New(database *db.DB, c cache.Cache, log *logging.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		db:       database,
		cache:    c,
		log:      log,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	acquired, err := s.cache.AcquireLock(ctx, lockName, s.interval/2)
	if err != nil {
		s.log.WithError(err).Warn("sweeper lock acquisition failed, skipping this cycle")
		return
	}
	if !acquired {
		s.log.Debug("sweeper lock held elsewhere, skipping this cycle")
		return
	}
	defer func() {
		if err := s.cache.ReleaseLock(ctx, lockName); err != nil {
			s.log.WithError(err).Warn("sweeper lock release failed")
		}
	}()

	n, err := s.sweep(ctx)
	if err != nil {
		s.log.WithError(err).Error("sweep failed")
		return
	}
	if n > 0 {
		s.log.Infof("sweep removed %d expired entries", n)
	}
}

// sweep deletes expired entries. It never sets app.current_tenant, so under
// the forced row-level security on kv_entries it reaches every tenant's rows
// only when the pool's role bypasses RLS (a superuser or BYPASSRLS role);
// under any other role it reaches only rows with no tenant.
func (s *Sweeper) sweep(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM kv_entries WHERE ttl_expires_at IS NOT NULL AND ttl_expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
