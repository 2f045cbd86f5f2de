package lifecycle

// voting.go — voting-window closure.
//
// Snapshot first, then tally: live votes from eligible users (registered
// wallet, holder role when configured) are frozen with a single shared
// timestamp and everything else is purged. Only the snapshot counts for
// sizing, scoring and payouts.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// CloseVoting ends the voting window for a trade: snapshot, quorum check,
// direction tally with a uniform 50/50 tie-break, conviction sizing and
// order execution. Every failure path is an abort (delete + announce).
func (e *Engine) CloseVoting(ctx context.Context, trade domain.Trade) error {
	voters, err := e.store.LiveVoterIDs(ctx, trade.ID)
	if err != nil {
		return fmt.Errorf("lifecycle.CloseVoting: voters: %w", err)
	}

	eligible, err := e.eligibleVoters(ctx, voters)
	if err != nil {
		return fmt.Errorf("lifecycle.CloseVoting: eligibility: %w", err)
	}

	counts, err := e.store.SnapshotPredictions(ctx, trade.ID, eligible, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("lifecycle.CloseVoting: snapshot: %w", err)
	}

	if counts.Total() < e.cfg.MinVotes {
		return e.abort(ctx, trade,
			fmt.Sprintf("only %d votes (minimum %d) — trade cancelled", counts.Total(), e.cfg.MinVotes))
	}

	direction, tie := counts.Majority()
	if tie {
		if e.rng.Intn(2) == 0 {
			direction = domain.DirectionUp
		} else {
			direction = domain.DirectionDown
		}
		slog.Info("lifecycle: vote tied, coin flip", "trade", trade.ID, "direction", direction)
	}

	pool, err := e.gateway.GetPoolBalance(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle.CloseVoting: pool balance: %w", err)
	}

	conviction := counts.Conviction()
	size := domain.PositionSize(pool, e.cfg.MinSizeFrac, e.cfg.MaxSizeFrac, conviction)
	if size == 0 {
		return e.abort(ctx, trade,
			fmt.Sprintf("pool balance $%.2f cannot fund a position — trade cancelled", pool))
	}

	market, err := e.gateway.GetMarket(ctx, trade.Asset)
	if err != nil || market == nil || market.ConditionID != trade.MarketID {
		// The market moved on while voting was open — use the stored ID
		market = &domain.Market{ConditionID: trade.MarketID, Asset: trade.Asset}
		if err != nil {
			slog.Warn("lifecycle: market refetch failed, using stored ids", "trade", trade.ID, "err", err)
		}
	}

	fill, err := e.gateway.ExecuteOrder(ctx, *market, direction, size)
	if err != nil {
		if aErr := e.abort(ctx, trade, fmt.Sprintf("order execution failed: %v", err)); aErr != nil {
			return aErr
		}
		return nil
	}
	if !fill.Success {
		return e.abort(ctx, trade, fmt.Sprintf("order rejected: %s", fill.Reason))
	}

	if err := e.store.MarkTradeExecuted(ctx, trade.ID, fill.OrderID, direction, time.Now().UTC()); err != nil {
		return fmt.Errorf("lifecycle.CloseVoting: mark executed: %w", err)
	}

	slog.Info("lifecycle: trade executed",
		"trade", trade.ID,
		"direction", direction,
		"size", fmt.Sprintf("$%.2f", size),
		"conviction", fmt.Sprintf("%.2f", conviction),
		"avg_price", fill.AvgPrice,
	)

	trade.Direction = direction
	trade.Status = domain.TradeStatusExecuted
	e.notifier.AnnounceExecution(ctx, trade, fill, conviction)
	return nil
}

// eligibleVoters filters live voters down to those with a registered
// wallet and, when configured, the holder role.
func (e *Engine) eligibleVoters(ctx context.Context, voters []string) ([]string, error) {
	eligible := make([]string, 0, len(voters))
	for _, id := range voters {
		user, err := e.store.GetUser(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", id, err)
		}
		if !user.HasWallet() {
			continue
		}
		if e.holders != nil {
			ok, err := e.holders.HasHolderRole(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("holder check %s: %w", id, err)
			}
			if !ok {
				continue
			}
		}
		eligible = append(eligible, id)
	}
	return eligible, nil
}
