package settlement

// payouts.go — the idempotent payout send pipeline.
//
// Each payout moves through: stored hash → receipt reconciliation;
// stored serialized request → verbatim resend (same nonce, same gas —
// re-deriving after a crash risks double-pay); no request → derive,
// persist before signing, store the hash before broadcasting. Only a
// definitive receipt (success or revert) moves a payout out of
// in-flight; a dropped send with no observable hash is inconclusive and
// retried later.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/domain"
	"github.com/alejandrodnm/polycouncil/internal/ports"
)

// processSettlement runs one pass over the settlement's payouts and
// aggregates the result: all sent → completed; any payout past the retry
// cap → failed + emergency stop; anything still in flight → stays
// distributing and rides the next tick.
func (e *Engine) processSettlement(ctx context.Context, s domain.Settlement) error {
	payouts, err := e.store.PayoutsBySettlement(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("settlement.processSettlement: payouts: %w", err)
	}

	if len(payouts) == 0 {
		// A settlement with no payout rows can never complete — systemic
		return e.failSettlement(ctx, s, nil, "settlement has no payout records")
	}

	for _, p := range payouts {
		if err := e.processPayout(ctx, p); err != nil {
			slog.Warn("settlement: payout pass error",
				"settlement", s.ID, "payout", p.ID, "err", err)
		}
	}

	// Re-read: the pass above mutated statuses
	payouts, err = e.store.PayoutsBySettlement(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("settlement.processSettlement: reread: %w", err)
	}

	allSent := true
	var exhausted []domain.Payout
	for _, p := range payouts {
		if p.Status != domain.PayoutStatusSent {
			allSent = false
		}
		if p.Status == domain.PayoutStatusFailed && p.RetryCount >= e.cfg.MaxRetries {
			exhausted = append(exhausted, p)
		}
	}

	switch {
	case allSent:
		if err := e.store.SetSettlementStatus(ctx, s.ID, domain.SettlementStatusCompleted, ""); err != nil {
			return fmt.Errorf("settlement.processSettlement: complete: %w", err)
		}
		slog.Info("settlement: completed", "settlement", s.ID, "payouts", len(payouts))
	case len(exhausted) > 0:
		var failed []domain.Payout
		for _, p := range payouts {
			if p.Status == domain.PayoutStatusFailed {
				failed = append(failed, p)
			}
		}
		return e.failSettlement(ctx, s, failed,
			fmt.Sprintf("%d payout(s) exhausted %d retries", len(exhausted), e.cfg.MaxRetries))
	default:
		slog.Debug("settlement: still distributing", "settlement", s.ID)
	}
	return nil
}

// processPayout advances one payout by at most one step.
func (e *Engine) processPayout(ctx context.Context, p domain.Payout) error {
	if p.Status == domain.PayoutStatusSent {
		return nil
	}

	// Reconcile an in-flight transaction before anything else
	if p.TxHash != "" {
		state, err := e.payer.ReceiptStatus(ctx, p.TxHash)
		if err != nil {
			return fmt.Errorf("receipt %s: %w", p.TxHash, err)
		}
		switch state {
		case ports.ReceiptConfirmed:
			slog.Info("settlement: payout confirmed", "payout", p.ID, "tx", p.TxHash)
			return e.store.MarkPayoutSent(ctx, p.ID)
		case ports.ReceiptReverted:
			slog.Warn("settlement: payout reverted", "payout", p.ID, "tx", p.TxHash)
			return e.store.MarkPayoutRetry(ctx, p.ID, "transaction reverted on-chain", time.Now().UTC())
		case ports.ReceiptPending:
			return nil // in flight, check again next cycle
		case ports.ReceiptMissing:
			// The chain never saw it — fall through and (re)send
		}
	}

	if p.RetryCount >= e.cfg.MaxRetries {
		return nil // exhausted; aggregation decides the settlement's fate
	}
	if p.RetryCount > 0 && p.LastRetryAt != nil {
		wait := e.cfg.Backoff(p.RetryCount - 1)
		if since := time.Since(*p.LastRetryAt); since < wait {
			slog.Debug("settlement: payout backing off",
				"payout", p.ID, "retry", p.RetryCount, "remaining", wait-since)
			return nil
		}
	}

	return e.sendPayout(ctx, p)
}

// sendPayout performs the persist-then-sign-then-broadcast sequence.
func (e *Engine) sendPayout(ctx context.Context, p domain.Payout) error {
	req := p.TxRequest
	if req == nil {
		user, err := e.store.GetUser(ctx, p.UserID)
		if err != nil {
			return fmt.Errorf("user %s: %w", p.UserID, err)
		}
		if !user.HasWallet() {
			// Should be impossible: winners are wallet-gated at creation
			return e.store.MarkPayoutRetry(ctx, p.ID, "winner has no wallet registered", time.Now().UTC())
		}

		req, err = e.payer.DeriveTransfer(ctx, user.Wallet, p.AmountCents)
		if err != nil {
			return fmt.Errorf("derive transfer: %w", err)
		}
		// Persist before signing: a crash here resumes with this exact
		// nonce and gas instead of deriving a second transaction
		if err := e.store.SetPayoutTxRequest(ctx, p.ID, req); err != nil {
			return fmt.Errorf("persist request: %w", err)
		}
	} else {
		slog.Info("settlement: reusing persisted tx request",
			"payout", p.ID, "nonce", req.Nonce)
	}

	hash, err := e.payer.SignAndHash(req)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	if err := e.store.SetPayoutTxHash(ctx, p.ID, hash); err != nil {
		return fmt.Errorf("persist hash: %w", err)
	}

	if err := e.payer.Broadcast(ctx, req); err != nil {
		// Hash is stored: the next cycle reconciles via receipt. A send
		// that died without reaching the chain shows up as "missing" and
		// is resent verbatim.
		slog.Warn("settlement: broadcast inconclusive", "payout", p.ID, "tx", hash, "err", err)
		return nil
	}

	slog.Info("settlement: payout broadcast",
		"payout", p.ID,
		"amount", fmt.Sprintf("$%.2f", float64(p.AmountCents)/100),
		"tx", hash,
	)
	return nil
}

// failSettlement is the hard financial-safety boundary: the system does
// not silently give up on owed money. It halts all new trade and payout
// activity and posts a human-actionable report.
func (e *Engine) failSettlement(ctx context.Context, s domain.Settlement, failed []domain.Payout, reason string) error {
	if err := e.store.SetSettlementStatus(ctx, s.ID, domain.SettlementStatusFailed, reason); err != nil {
		return fmt.Errorf("settlement.failSettlement: status: %w", err)
	}
	if err := e.store.SetEmergencyStop(ctx, true); err != nil {
		return fmt.Errorf("settlement.failSettlement: emergency stop: %w", err)
	}

	slog.Error("settlement: FAILED — emergency stop engaged",
		"settlement", s.ID, "reason", reason, "failed_payouts", len(failed))

	s.Status = domain.SettlementStatusFailed
	s.Error = reason
	e.notifier.AnnouncePayoutFailure(ctx, s, failed)
	return nil
}
