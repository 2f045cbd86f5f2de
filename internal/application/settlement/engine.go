package settlement

// engine.go — settlement creation.
//
// The settlement-creating transaction is the irrevocable "we owe this
// money" commitment: it claims the resolved trades and fixes each payout
// amount to the cent. Everything in payouts.go is retry machinery to
// make the on-chain transfers match what was committed here.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/domain"
	"github.com/alejandrodnm/polycouncil/internal/ports"
)

// Config holds the payout distribution parameters.
type Config struct {
	PayoutShare    float64
	MinPayoutCents int64
	Weights        [3]float64
	MaxRetries     int
	// Backoff maps a retry count to the wait before the next attempt.
	Backoff func(retryCount int) time.Duration
}

// Engine aggregates unsettled profit, selects winners and drives each
// payout through on-chain transfer with bounded retries.
type Engine struct {
	store    ports.Store
	payer    ports.Payer
	notifier ports.Notifier
	cfg      Config
}

// New creates the settlement engine.
func New(store ports.Store, payer ports.Payer, notifier ports.Notifier, cfg Config) *Engine {
	if cfg.Backoff == nil {
		cfg.Backoff = func(int) time.Duration { return time.Minute }
	}
	return &Engine{store: store, payer: payer, notifier: notifier, cfg: cfg}
}

// TriggerSettlement attempts to create a settlement. The read-only
// pre-checks here only avoid useless transactions; the four trigger
// conditions are re-validated against live data inside the creating
// transaction. Not-due and already-in-progress outcomes are normal skips.
func (e *Engine) TriggerSettlement(ctx context.Context) (bool, error) {
	rs, err := e.store.RuntimeState(ctx)
	if err != nil {
		return false, fmt.Errorf("settlement.TriggerSettlement: runtime state: %w", err)
	}
	if rs.EmergencyStopped {
		slog.Info("settlement: skipped, emergency stop active")
		return false, nil
	}

	profit, trades, err := e.store.UnsettledProfit(ctx)
	if err != nil {
		return false, fmt.Errorf("settlement.TriggerSettlement: profit: %w", err)
	}
	if trades == 0 || profit <= 0 {
		slog.Debug("settlement: nothing to distribute", "profit", profit, "trades", trades)
		return false, nil
	}
	if domain.PayoutTotalCents(profit, e.cfg.PayoutShare) < e.cfg.MinPayoutCents {
		slog.Debug("settlement: below minimum payout", "profit", profit)
		return false, nil
	}

	s, payouts, err := e.store.CreateSettlement(ctx, ports.CreateSettlementParams{
		PayoutShare:    e.cfg.PayoutShare,
		MinPayoutCents: e.cfg.MinPayoutCents,
		Weights:        e.cfg.Weights,
		MaxWinners:     3,
		TriggeredAt:    time.Now().UTC(),
	})
	if errors.Is(err, domain.ErrSettlementNotDue) || errors.Is(err, domain.ErrSettlementIncomplete) {
		slog.Info("settlement: creation skipped", "reason", err)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("settlement.TriggerSettlement: create: %w", err)
	}

	slog.Info("settlement: created",
		"settlement", s.ID,
		"profit", fmt.Sprintf("$%.2f", profit),
		"trades", trades,
		"payouts", len(payouts),
	)
	e.notifier.AnnounceSettlement(ctx, s, payouts)

	// First distribution pass right away; later passes ride the tick
	if err := e.processSettlement(ctx, s); err != nil {
		slog.Warn("settlement: first distribution pass failed", "settlement", s.ID, "err", err)
	}
	return true, nil
}

// ProcessIncomplete advances the open settlement, if any. Called every
// tick — settlement retries ride the same periodic re-scan as everything
// else, no dedicated timers.
func (e *Engine) ProcessIncomplete(ctx context.Context) error {
	s, err := e.store.IncompleteSettlement(ctx)
	if err != nil {
		return fmt.Errorf("settlement.ProcessIncomplete: %w", err)
	}
	if s == nil {
		return nil
	}
	return e.processSettlement(ctx, *s)
}
