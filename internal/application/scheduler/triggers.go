package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// outcome of a scheduled-trade attempt.
type attemptResult int

const (
	attemptFired    attemptResult = iota // trade created
	attemptSkipped                       // denied, trigger consumed
	attemptDeferred                      // min-gap denial, retry later
)

const dateLayout = "2006-01-02"

// checkDailyTrigger fires the daily trade once per calendar day at or
// after the configured local time. The persisted last-fired date is the
// gate: a restart mid-day neither double-fires nor loses the trade.
func (s *Scheduler) checkDailyTrigger(ctx context.Context, now time.Time) {
	local := now.In(s.cfg.Location)
	if local.Hour() < s.cfg.DailyHour ||
		(local.Hour() == s.cfg.DailyHour && local.Minute() < s.cfg.DailyMinute) {
		return
	}
	today := local.Format(dateLayout)

	rs, err := s.store.RuntimeState(ctx)
	if err != nil {
		slog.Warn("scheduler: runtime state read failed", "err", err)
		return
	}
	if rs.LastDailyTradeDate == today {
		return
	}

	result := s.attemptScheduledTrade(ctx, "daily")
	if result == attemptDeferred {
		// Gate stays unset: the next ticks keep retrying until the gap passes
		return
	}
	if err := s.store.SetLastDailyTradeDate(ctx, today); err != nil {
		slog.Warn("scheduler: persist daily date failed", "err", err)
	}
}

// checkHourlyTrigger fires a trade once per clock hour inside the trading
// window, at a randomized offset from the hour boundary. The absolute
// next-fire time is persisted so a restart neither reschedules predictably
// nor drops a pending trigger.
func (s *Scheduler) checkHourlyTrigger(ctx context.Context, now time.Time) {
	rs, err := s.store.RuntimeState(ctx)
	if err != nil {
		slog.Warn("scheduler: runtime state read failed", "err", err)
		return
	}

	if rs.NextHourlyTradeAt == nil {
		next := s.nextHourlyFire(now)
		if err := s.store.SetNextHourlyTradeAt(ctx, &next); err != nil {
			slog.Warn("scheduler: persist hourly fire failed", "err", err)
		}
		return
	}
	if now.Before(*rs.NextHourlyTradeAt) {
		return
	}

	result := s.attemptScheduledTrade(ctx, "hourly")

	var next time.Time
	if result == attemptDeferred {
		// Push the persisted fire past the gap instead of dropping it
		adm, err := s.lifecycle.CanStartTrade(ctx, false)
		if err != nil || adm.Wait <= 0 {
			next = s.nextHourlyFire(now)
		} else {
			next = now.Add(adm.Wait)
		}
	} else {
		next = s.nextHourlyFire(now)
	}
	if err := s.store.SetNextHourlyTradeAt(ctx, &next); err != nil {
		slog.Warn("scheduler: persist hourly fire failed", "err", err)
	}
}

// nextHourlyFire picks the next eligible hour boundary plus a fresh random
// offset. Eligible hours sit inside [TradingHoursStart, TradingHoursEnd)
// and are never the daily-trigger hour.
func (s *Scheduler) nextHourlyFire(now time.Time) time.Time {
	local := now.In(s.cfg.Location)
	hour := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, s.cfg.Location)

	for i := 0; i < 48; i++ {
		hour = hour.Add(time.Hour)
		h := hour.Hour()
		if h < s.cfg.TradingHoursStart || h >= s.cfg.TradingHoursEnd {
			continue
		}
		if h == s.cfg.DailyHour {
			continue
		}
		var offset time.Duration
		if s.cfg.HourlyVariance > 0 {
			offset = time.Duration(s.rng.Int63n(int64(s.cfg.HourlyVariance)))
		}
		return hour.Add(offset)
	}
	// Empty window (misconfiguration); park the trigger a day out
	return local.Add(24 * time.Hour)
}

// checkWeeklyTrigger fires the weekly settlement once per week on the
// configured weekday at or after the configured hour. One attempt per
// week: if the trigger conditions are not met at that point, the
// settlement waits for the next week's window.
func (s *Scheduler) checkWeeklyTrigger(ctx context.Context, now time.Time) {
	local := now.In(s.cfg.Location)
	if local.Weekday() != s.cfg.WeeklyPayoutDay || local.Hour() < s.cfg.WeeklyPayoutHour {
		return
	}
	today := local.Format(dateLayout)

	rs, err := s.store.RuntimeState(ctx)
	if err != nil {
		slog.Warn("scheduler: runtime state read failed", "err", err)
		return
	}
	if rs.LastWeeklyPayout == today {
		return
	}

	fired, err := s.settlement.TriggerSettlement(ctx)
	if err != nil {
		slog.Warn("scheduler: weekly settlement trigger failed", "err", err)
		// Leave the gate unset so the next tick retries the trigger
		return
	}
	if !fired {
		slog.Info("scheduler: weekly settlement conditions not met")
	}
	if err := s.store.SetLastWeeklyPayout(ctx, today); err != nil {
		slog.Warn("scheduler: persist weekly date failed", "err", err)
	}
}

// attemptScheduledTrade runs admission and, if allowed, starts a trade.
// A min-gap denial is the only one worth deferring; everything else
// (emergency stop, active trade, settlement in progress) consumes the
// trigger silently.
func (s *Scheduler) attemptScheduledTrade(ctx context.Context, trigger string) attemptResult {
	adm, err := s.lifecycle.CanStartTrade(ctx, false)
	if err != nil {
		slog.Warn("scheduler: admission check failed", "trigger", trigger, "err", err)
		return attemptSkipped
	}
	if !adm.Allowed {
		if adm.Wait > 0 {
			slog.Debug("scheduler: scheduled trade deferred",
				"trigger", trigger, "wait", adm.Wait.Round(time.Second))
			return attemptDeferred
		}
		slog.Info("scheduler: scheduled trade skipped",
			"trigger", trigger, "reason", adm.Reason)
		return attemptSkipped
	}

	if err := s.lifecycle.StartTrade(ctx, fmt.Sprintf("scheduled:%s", trigger)); err != nil {
		slog.Warn("scheduler: scheduled trade failed", "trigger", trigger, "err", err)
		return attemptSkipped
	}
	slog.Info("scheduler: scheduled trade started", "trigger", trigger)
	return attemptFired
}
