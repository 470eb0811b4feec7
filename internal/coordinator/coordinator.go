// Package coordinator schedules crawl units across retry rounds. Units that
// completed in an earlier run or round are never re-fetched; only incomplete
// units carry over into the next round.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kmilewski/listing-crawler/internal/checkpoint"
	"github.com/kmilewski/listing-crawler/internal/discover"
	"github.com/kmilewski/listing-crawler/internal/metrics"
)

// UnitRunner walks one unit's listing; *discover.Discoverer satisfies it.
type UnitRunner interface {
	Discover(ctx context.Context, unit discover.Unit, startPage, maxPages int) (checkpoint.UnitState, error)
}

// Config holds the scheduling knobs.
type Config struct {
	// MaxPages caps the listing depth per unit and run.
	MaxPages int
	// RetryRounds is the number of extra passes over incomplete units after
	// the first. Zero means a single pass.
	RetryRounds int
	// RetrySleep is the pause before each retry round.
	RetrySleep time.Duration
}

// Coordinator runs every unit to completion or until the retry budget is
// spent, persisting outcomes through the checkpoint store.
type Coordinator struct {
	runner UnitRunner
	store  *checkpoint.Store
	units  []discover.Unit
	limit  *discover.Limit
	cfg    Config
	logger *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New wires a coordinator. limit may be nil for an uncapped run.
func New(runner UnitRunner, store *checkpoint.Store, units []discover.Unit, limit *discover.Limit, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		runner: runner,
		store:  store,
		units:  units,
		limit:  limit,
		cfg:    cfg,
		logger: logger.Named("coordinator"),
		sleep:  sleepCtx,
	}
}

// Run executes round zero over all pending units, then up to RetryRounds
// extra passes over whatever is still incomplete. It stops early when a
// round ends with nothing incomplete, or when the global item limit is
// reached. The returned error is non-nil only for persistence failures and
// cancellation; per-unit fetch failures are recorded in the store instead.
func (c *Coordinator) Run(ctx context.Context) error {
	runID := uuid.NewString()
	log := c.logger.With(zap.String("run_id", runID))

	for round := 0; round <= c.cfg.RetryRounds; round++ {
		if round > 0 {
			metrics.RetryRounds.Inc()
			log.Info("retry_round_wait",
				zap.Int("round", round),
				zap.Duration("sleep", c.cfg.RetrySleep),
			)
			if err := c.sleep(ctx, c.cfg.RetrySleep); err != nil {
				return err
			}
		}

		incomplete, err := c.runRound(ctx, log, round)
		if err != nil {
			return err
		}

		log.Info("round_summary",
			zap.Int("round", round),
			zap.Strings("incomplete", incomplete),
		)
		if len(incomplete) == 0 {
			return nil
		}
		if c.limit.Reached() {
			log.Info("run_limit_reached", zap.Int("round", round))
			return nil
		}
	}
	return nil
}

// runRound makes one pass over the units and returns the IDs left
// incomplete.
func (c *Coordinator) runRound(ctx context.Context, log *zap.Logger, round int) ([]string, error) {
	var incomplete []string
	for _, unit := range c.units {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		if c.store.IsDone(unit.ID) {
			continue
		}
		if c.limit.Reached() {
			incomplete = append(incomplete, unit.ID)
			continue
		}

		startPage := c.store.ResumeStartPage(unit.ID)
		log.Info("discover_start",
			zap.String("unit", unit.ID),
			zap.Int("round", round),
			zap.Int("start_page", startPage),
		)

		st, err := c.runner.Discover(ctx, unit, startPage, c.cfg.MaxPages)
		if uerr := c.store.Update(unit.ID, st); uerr != nil {
			return nil, fmt.Errorf("persist %s: %w", unit.ID, uerr)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("unit %s: %w", unit.ID, err)
			}
			log.Error("discover_unit_fail", zap.String("unit", unit.ID), zap.Error(err))
			incomplete = append(incomplete, unit.ID)
			continue
		}

		if st.Done {
			if err := c.store.AppendDone(unit.ID); err != nil {
				return nil, fmt.Errorf("record done %s: %w", unit.ID, err)
			}
			log.Info("discover_done",
				zap.String("unit", unit.ID),
				zap.Int("last_page_done", st.LastPageDone),
				zap.Int("items", st.ProcessedItemsLastRun),
			)
			continue
		}

		log.Warn("discover_incomplete",
			zap.String("unit", unit.ID),
			zap.Int("last_page_done", st.LastPageDone),
			zap.String("stop_reason", string(st.StopReason)),
		)
		incomplete = append(incomplete, unit.ID)
	}
	return incomplete, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
