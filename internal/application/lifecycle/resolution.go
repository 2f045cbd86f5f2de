package lifecycle

// resolution.go — resolution polling.
//
// Polling is an accepted "retry forever" policy: an unresolved market is
// a no-op retried next tick, bounded in practice by the staleness alarm
// and human intervention, not by code. Redemption is the irreversible
// step — P&L is never recorded against un-redeemed value, so a failed
// redeem leaves the trade in executed and retries later.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// ResolveDue polls resolution for one executed trade past its deadline.
// The in-memory resolving set keeps overlapping ticks from double-
// processing the same trade while its calls are in flight.
func (e *Engine) ResolveDue(ctx context.Context, trade domain.Trade) error {
	if !e.beginResolve(trade.ID) {
		return nil // already being resolved by an earlier tick
	}
	defer e.endResolve(trade.ID)

	res, err := e.gateway.GetResolution(ctx, trade.MarketID)
	if err != nil {
		return fmt.Errorf("lifecycle.ResolveDue: resolution %d: %w", trade.ID, err)
	}
	if !res.Resolved {
		e.maybeAnnounceStale(ctx, trade)
		return nil
	}

	conditionID := res.ConditionID
	if conditionID == "" {
		conditionID = trade.MarketID
	}

	pnl, err := e.gateway.GetPositionPnL(ctx, conditionID)
	if err != nil {
		return fmt.Errorf("lifecycle.ResolveDue: pnl %d: %w", trade.ID, err)
	}

	if err := e.gateway.RedeemWinnings(ctx, conditionID, res.TokenIDs); err != nil {
		// Redemption failed — trade stays executed, retried next tick
		slog.Warn("lifecycle: redemption failed, will retry",
			"trade", trade.ID, "err", err)
		return nil
	}

	preds, err := e.store.ResolveTrade(ctx, trade.ID, pnl.PnL, res.Outcome, time.Now().UTC(), e.cfg.ReputationCap)
	if err != nil {
		return fmt.Errorf("lifecycle.ResolveDue: resolve %d: %w", trade.ID, err)
	}

	won := trade.Direction == res.Outcome
	slog.Info("lifecycle: trade resolved",
		"trade", trade.ID,
		"outcome", res.Outcome,
		"won", won,
		"pnl", fmt.Sprintf("$%.2f", pnl.PnL),
		"predictions", len(preds),
	)

	top, err := e.store.Leaderboard(ctx, 3)
	if err != nil {
		slog.Warn("lifecycle: leaderboard fetch failed", "err", err)
	}
	trade.Status = domain.TradeStatusResolved
	e.notifier.AnnounceResolution(ctx, trade, pnl.PnL, top)
	return nil
}

// maybeAnnounceStale warns once per trade when resolution has been
// pending for too long. A warning, not an emergency stop.
func (e *Engine) maybeAnnounceStale(ctx context.Context, trade domain.Trade) {
	if trade.ExecutedAt == nil || e.cfg.ResolutionStaleAfter <= 0 {
		return
	}
	stuck := time.Since(*trade.ExecutedAt)
	if stuck < e.cfg.ResolutionStaleAfter {
		return
	}

	e.mu.Lock()
	_, announced := e.staleAnnounced[trade.ID]
	if !announced {
		e.staleAnnounced[trade.ID] = struct{}{}
	}
	e.mu.Unlock()
	if announced {
		return
	}

	slog.Warn("lifecycle: resolution is stale",
		"trade", trade.ID, "stuck_hours", stuck.Hours())
	e.notifier.AnnounceStaleResolution(ctx, trade, stuck.Hours())
}

func (e *Engine) beginResolve(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.resolving[id]; ok {
		return false
	}
	e.resolving[id] = struct{}{}
	return true
}

func (e *Engine) endResolve(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.resolving, id)
}
