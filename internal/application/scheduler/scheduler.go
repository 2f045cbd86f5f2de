package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/application/lifecycle"
	"github.com/alejandrodnm/polycouncil/internal/application/settlement"
	"github.com/alejandrodnm/polycouncil/internal/ports"
)

// Config holds the trigger schedule. All hours are interpreted in Location.
type Config struct {
	TickInterval      time.Duration
	Location          *time.Location
	DailyHour         int
	DailyMinute       int
	TradingHoursStart int // inclusive
	TradingHoursEnd   int // exclusive
	HourlyVariance    time.Duration
	WeeklyPayoutDay   time.Weekday
	WeeklyPayoutHour  int
}

// Scheduler is the single cooperative driver: one ticker advances voting
// closures, scheduled trades, weekly settlements and resolution polling.
// There is no parallelism over shared state here — every trigger funnels
// into the store's transactions, which are the real mutual exclusion.
type Scheduler struct {
	store      ports.Store
	lifecycle  *lifecycle.Engine
	settlement *settlement.Engine
	cfg        Config
	rng        *rand.Rand
	now        func() time.Time
}

// New creates the scheduler. rng drives the hourly-trigger offset; tests
// inject a fixed seed. now defaults to time.Now.
func New(store ports.Store, lc *lifecycle.Engine, st *settlement.Engine,
	cfg Config, rng *rand.Rand) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{
		store:      store,
		lifecycle:  lc,
		settlement: st,
		cfg:        cfg,
		rng:        rng,
		now:        time.Now,
	}
}

// Run blocks until ctx is cancelled, firing one Tick per interval. A tick
// never overlaps the next: the loop waits for Tick to return before
// selecting again.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("scheduler: running",
		"interval", s.cfg.TickInterval,
		"tz", s.cfg.Location.String())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler: stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one pass over every time-based transition. Order matters:
// closures and resolutions go before new-trade triggers so the single
// active trade slot is freed within the same tick it becomes free.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.closeDueVoting(ctx, now)
	s.checkDailyTrigger(ctx, now)
	s.checkHourlyTrigger(ctx, now)
	s.checkWeeklyTrigger(ctx, now)
	s.processSettlements(ctx)
	s.resolveDueTrades(ctx, now)
}

// closeDueVoting closes every trade whose voting window has elapsed.
func (s *Scheduler) closeDueVoting(ctx context.Context, now time.Time) {
	due, err := s.store.VotingTradesDue(ctx, now)
	if err != nil {
		slog.Warn("scheduler: voting-due query failed", "err", err)
		return
	}
	for _, t := range due {
		if err := s.lifecycle.CloseVoting(ctx, t); err != nil {
			slog.Warn("scheduler: close voting failed", "trade", t.ID, "err", err)
		}
	}
}

// resolveDueTrades polls resolution for every executed trade past its
// deadline. Unresolved markets are a no-op and retried forever.
func (s *Scheduler) resolveDueTrades(ctx context.Context, now time.Time) {
	due, err := s.store.ExecutedTradesDue(ctx, now)
	if err != nil {
		slog.Warn("scheduler: resolution-due query failed", "err", err)
		return
	}
	for _, t := range due {
		if err := s.lifecycle.ResolveDue(ctx, t); err != nil {
			slog.Warn("scheduler: resolution failed", "trade", t.ID, "err", err)
		}
	}
}

// processSettlements re-scans incomplete settlements every tick. Payout
// backoff lives in persisted per-payout timestamps, not in timers, so
// re-scanning is cheap and restart-safe.
func (s *Scheduler) processSettlements(ctx context.Context) {
	if err := s.settlement.ProcessIncomplete(ctx); err != nil {
		slog.Warn("scheduler: settlement pass failed", "err", err)
	}
}
