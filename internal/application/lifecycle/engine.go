package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/domain"
	"github.com/alejandrodnm/polycouncil/internal/ports"
)

// Config holds the trade lifecycle parameters.
type Config struct {
	Assets               []string
	VotingWindow         time.Duration
	MinVotes             int
	MinSizeFrac          float64
	MaxSizeFrac          float64
	MinGap               time.Duration
	Blackout             time.Duration
	DailyHour            int
	DailyMinute          int
	Location             *time.Location
	ResolutionDeadline   time.Duration
	ResolutionStaleAfter time.Duration
	ReputationCap        float64
	CandleLimit          int
}

// Engine owns the voting → executed → resolved state machine for at most
// one active trade at a time. Abort is always expressed as "delete the
// trade row and announce" after an external call returns, never as
// interrupting an in-flight call.
type Engine struct {
	store    ports.Store
	gateway  ports.MarketGateway
	signal   ports.SignalSource
	candles  ports.CandleProvider
	notifier ports.Notifier
	holders  ports.HolderGate
	cfg      Config
	rng      *rand.Rand

	// In-flight resolution guard. Not persisted: losing it on restart
	// costs at most one redundant resolution attempt, and redemption
	// failure leaves state unchanged.
	mu             sync.Mutex
	resolving      map[int64]struct{}
	staleAnnounced map[int64]struct{}
}

// New creates the lifecycle engine. rng drives the 50/50 tie-break; tests
// inject a fixed seed for reproducibility.
func New(store ports.Store, gateway ports.MarketGateway, signal ports.SignalSource,
	candles ports.CandleProvider, notifier ports.Notifier, holders ports.HolderGate,
	cfg Config, rng *rand.Rand) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		store:          store,
		gateway:        gateway,
		signal:         signal,
		candles:        candles,
		notifier:       notifier,
		holders:        holders,
		cfg:            cfg,
		rng:            rng,
		resolving:      make(map[int64]struct{}),
		staleAnnounced: make(map[int64]struct{}),
	}
}

// Admission is the answer to "can a trade start now".
type Admission struct {
	Allowed bool
	Reason  string
	Wait    time.Duration // only for the min-gap denial
}

// CanStartTrade runs the read-only admission checks. The checks are an
// optimization, not a guarantee — trade creation re-validates inside its
// transaction because check-then-create is not atomic under concurrent
// triggers.
func (e *Engine) CanStartTrade(ctx context.Context, userInitiated bool) (Admission, error) {
	rs, err := e.store.RuntimeState(ctx)
	if err != nil {
		return Admission{}, fmt.Errorf("lifecycle.CanStartTrade: runtime state: %w", err)
	}
	if rs.EmergencyStopped {
		return Admission{Reason: "emergency stop is active — trading halted"}, nil
	}

	active, err := e.store.ActiveTrade(ctx)
	if err != nil {
		return Admission{}, fmt.Errorf("lifecycle.CanStartTrade: active trade: %w", err)
	}
	if active != nil {
		return Admission{Reason: fmt.Sprintf("trade #%d is still %s", active.ID, active.Status)}, nil
	}

	incomplete, err := e.store.IncompleteSettlement(ctx)
	if err != nil {
		return Admission{}, fmt.Errorf("lifecycle.CanStartTrade: settlement: %w", err)
	}
	if incomplete != nil {
		return Admission{Reason: fmt.Sprintf("settlement #%d is still distributing", incomplete.ID)}, nil
	}

	lastResolved, err := e.store.LastResolvedAt(ctx)
	if err != nil {
		return Admission{}, fmt.Errorf("lifecycle.CanStartTrade: last resolved: %w", err)
	}
	if lastResolved != nil {
		elapsed := time.Since(*lastResolved)
		if elapsed < e.cfg.MinGap {
			wait := e.cfg.MinGap - elapsed
			return Admission{
				Reason: fmt.Sprintf("cooling down — next trade possible in %s", wait.Round(time.Second)),
				Wait:   wait,
			}, nil
		}
	}

	if userInitiated && e.inMorningBlackout(time.Now()) {
		return Admission{Reason: "the daily trade is coming up — proposals are paused until then"}, nil
	}

	return Admission{Allowed: true}, nil
}

// inMorningBlackout reports whether now falls inside the blackout window
// preceding the daily scheduled trade.
func (e *Engine) inMorningBlackout(now time.Time) bool {
	local := now.In(e.cfg.Location)
	daily := time.Date(local.Year(), local.Month(), local.Day(),
		e.cfg.DailyHour, e.cfg.DailyMinute, 0, 0, e.cfg.Location)
	return local.Before(daily) && local.After(daily.Add(-e.cfg.Blackout))
}

// IsEmergencyStopped reads the persisted halt flag.
func (e *Engine) IsEmergencyStopped(ctx context.Context) (bool, error) {
	rs, err := e.store.RuntimeState(ctx)
	if err != nil {
		return false, fmt.Errorf("lifecycle.IsEmergencyStopped: %w", err)
	}
	return rs.EmergencyStopped, nil
}

// SetEmergencyStop persists the halt flag.
func (e *Engine) SetEmergencyStop(ctx context.Context, stopped bool) error {
	if err := e.store.SetEmergencyStop(ctx, stopped); err != nil {
		return fmt.Errorf("lifecycle.SetEmergencyStop: %w", err)
	}
	slog.Warn("lifecycle: emergency stop changed", "stopped", stopped)
	return nil
}

// RecordVote registers a live directional vote while voting is open.
// Gating: the trade must be in voting, the voting window still open, and
// the user must hold a registered wallet (plus the holder role when
// configured). Votes from ineligible users are dropped silently.
func (e *Engine) RecordVote(ctx context.Context, tradeID int64, userID, displayName string, dir domain.Direction) error {
	trade, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("lifecycle.RecordVote: %w", err)
	}
	if trade.Status != domain.TradeStatusVoting || time.Now().After(trade.VotingEndsAt) {
		return nil
	}

	user, err := e.store.UpsertUser(ctx, userID, displayName)
	if err != nil {
		return fmt.Errorf("lifecycle.RecordVote: upsert user: %w", err)
	}
	if !user.HasWallet() {
		slog.Debug("lifecycle: vote ignored, no wallet", "user", userID)
		return nil
	}
	if e.holders != nil {
		ok, err := e.holders.HasHolderRole(ctx, userID)
		if err != nil {
			return fmt.Errorf("lifecycle.RecordVote: holder check: %w", err)
		}
		if !ok {
			slog.Debug("lifecycle: vote ignored, not a holder", "user", userID)
			return nil
		}
	}

	if err := e.store.RecordVote(ctx, tradeID, userID, dir); err != nil {
		return fmt.Errorf("lifecycle.RecordVote: %w", err)
	}
	return nil
}

// VoteCounts exposes the live tally for the command surface.
func (e *Engine) VoteCounts(ctx context.Context, tradeID int64) (domain.VoteCounts, error) {
	return e.store.VoteCounts(ctx, tradeID, false)
}

// abort deletes the trade and announces why. The delete is the state
// transition; the announce must never gate it.
func (e *Engine) abort(ctx context.Context, trade domain.Trade, reason string) error {
	if err := e.store.DeleteTrade(ctx, trade.ID); err != nil {
		return fmt.Errorf("lifecycle.abort: delete trade %d: %w", trade.ID, err)
	}
	slog.Info("lifecycle: trade aborted", "trade", trade.ID, "reason", reason)
	e.notifier.AnnounceAbort(ctx, trade, reason)
	return nil
}
