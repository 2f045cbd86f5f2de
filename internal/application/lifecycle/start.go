package lifecycle

// start.go — the trade start sequence.
//
// fetch markets + candles in parallel → one signal call → resolve to a
// concrete tradeable market (falling back to any other asset that has
// one) → create the trade row transactionally → announce and attach the
// voting message. Any failure after row creation but before a durable
// message reference deletes the trade: a voting trade with no message
// has no way to close.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// StartTrade runs the full start sequence. triggeredBy is only for logs.
func (e *Engine) StartTrade(ctx context.Context, triggeredBy string) error {
	slog.Info("lifecycle: starting trade", "triggered_by", triggeredBy)

	markets, candles, err := e.fetchContext(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle.StartTrade: %w", err)
	}
	if len(markets) == 0 {
		return fmt.Errorf("lifecycle.StartTrade: no tradeable markets for any asset")
	}

	proposal, err := e.signal.ProposeTrade(ctx, markets, candles)
	if err != nil {
		return fmt.Errorf("lifecycle.StartTrade: signal: %w", err)
	}

	market, ok := markets[proposal.Asset]
	if !ok {
		// The chosen asset has no market right now — take any other
		for asset, m := range markets {
			slog.Warn("lifecycle: proposed asset has no market, falling back",
				"proposed", proposal.Asset, "fallback", asset)
			proposal.Asset = asset
			market, ok = m, true
			break
		}
	}
	if !ok {
		return fmt.Errorf("lifecycle.StartTrade: no market for %s and no fallback", proposal.Asset)
	}

	now := time.Now().UTC()
	deadline := market.EndDate
	if deadline.IsZero() {
		deadline = now.Add(e.cfg.VotingWindow + e.cfg.ResolutionDeadline)
	}

	trade, err := e.store.CreateTradePending(ctx, domain.Trade{
		Asset:              proposal.Asset,
		MarketID:           market.ConditionID,
		Direction:          proposal.Direction,
		VotingEndsAt:       now.Add(e.cfg.VotingWindow),
		ResolutionDeadline: deadline,
		CreatedAt:          now,
	})
	if errors.Is(err, domain.ErrTradeActive) || errors.Is(err, domain.ErrSettlementIncomplete) {
		// Another trigger won the race between admission check and insert
		slog.Info("lifecycle: trade creation lost race", "reason", err)
		return err
	}
	if err != nil {
		return fmt.Errorf("lifecycle.StartTrade: create: %w", err)
	}

	msgRef, err := e.notifier.AnnounceProposal(ctx, trade, proposal)
	if err != nil {
		// No durable message ref — nobody could ever vote on this trade
		if delErr := e.store.DeleteTrade(ctx, trade.ID); delErr != nil {
			slog.Error("lifecycle: failed to delete orphan trade", "trade", trade.ID, "err", delErr)
		}
		return fmt.Errorf("lifecycle.StartTrade: announce: %w", err)
	}
	if err := e.store.SetTradeMessageRef(ctx, trade.ID, msgRef); err != nil {
		if delErr := e.store.DeleteTrade(ctx, trade.ID); delErr != nil {
			slog.Error("lifecycle: failed to delete orphan trade", "trade", trade.ID, "err", delErr)
		}
		return fmt.Errorf("lifecycle.StartTrade: store message ref: %w", err)
	}

	slog.Info("lifecycle: trade proposed",
		"trade", trade.ID,
		"asset", proposal.Asset,
		"direction", proposal.Direction,
		"voting_ends", trade.VotingEndsAt.Format(time.RFC3339),
	)
	return nil
}

// fetchContext loads tradeable markets and recent candles for every
// supported asset in parallel.
func (e *Engine) fetchContext(ctx context.Context) (map[string]domain.Market, map[string][]domain.Candle, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		markets = make(map[string]domain.Market)
		candles = make(map[string][]domain.Candle)
	)

	for _, asset := range e.cfg.Assets {
		wg.Add(1)
		go func(asset string) {
			defer wg.Done()

			m, err := e.gateway.GetMarket(ctx, asset)
			if err != nil {
				slog.Warn("lifecycle: market fetch failed", "asset", asset, "err", err)
				return
			}
			if m == nil {
				return
			}

			cs, err := e.candles.RecentCandles(ctx, asset, e.cfg.CandleLimit)
			if err != nil {
				slog.Warn("lifecycle: candle fetch failed", "asset", asset, "err", err)
				// Markets without candles are still tradeable
			}

			mu.Lock()
			markets[asset] = *m
			if len(cs) > 0 {
				candles[asset] = cs
			}
			mu.Unlock()
		}(asset)
	}
	wg.Wait()

	return markets, candles, nil
}
