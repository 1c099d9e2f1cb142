package scheduler

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/closebid/market-server/internal/settlement"
)

// Runner is the engine as seen by the scheduler.
type Runner interface {
	ProcessExpiredAuctions(ctx context.Context) (settlement.Result, error)
}

// Scheduler invokes the settlement engine on a fixed interval. With a
// redis client configured, replicas single-flight behind an advisory
// lock; the database's conditional close stays the correctness guard
// either way, the lock only avoids redundant scans.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	rdb      *redis.Client
	owner    string
}

const lockKey = "settlement:close-expired-bids"

// releaseIfMatch deletes the lock only when it still belongs to this
// owner, so a slow run cannot drop a newer holder's lock.
const releaseIfMatch = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

func New(runner Runner, interval time.Duration, rdb *redis.Client) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		rdb:      rdb,
		owner:    uuid.NewString(),
	}
}

// Start runs the periodic check until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log.Info("Settlement scheduler started", "interval", s.interval.String())

		for {
			select {
			case <-ctx.Done():
				log.Info("Settlement scheduler stopped")
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if s.rdb != nil {
		acquired, err := s.rdb.SetNX(ctx, lockKey, s.owner, 2*s.interval).Result()
		if err != nil {
			// Run anyway; the conditional close keeps concurrent runs safe.
			log.Warn("Settlement lock unavailable, proceeding without it", "error", err)
		} else if !acquired {
			log.Debug("Settlement lock held elsewhere, skipping run")
			return
		} else {
			defer func() {
				if _, err := s.rdb.Eval(ctx, releaseIfMatch, []string{lockKey}, s.owner).Result(); err != nil {
					log.Warn("Failed to release settlement lock", "error", err)
				}
			}()
		}
	}

	if _, err := s.runner.ProcessExpiredAuctions(ctx); err != nil {
		log.Error("Scheduled settlement run failed", "error", err)
	}
}
