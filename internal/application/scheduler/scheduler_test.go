package scheduler

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polycouncil/internal/adapters/storage"
	"github.com/alejandrodnm/polycouncil/internal/application/lifecycle"
	"github.com/alejandrodnm/polycouncil/internal/application/settlement"
	"github.com/alejandrodnm/polycouncil/internal/domain"
	"github.com/alejandrodnm/polycouncil/internal/ports"
)

// --- fakes ---

type fakeGateway struct{}

func (f *fakeGateway) FindTradeableMarkets(ctx context.Context) ([]domain.Market, error) {
	return []domain.Market{*f.market()}, nil
}

func (f *fakeGateway) GetMarket(ctx context.Context, asset string) (*domain.Market, error) {
	return f.market(), nil
}

func (f *fakeGateway) market() *domain.Market {
	return &domain.Market{
		ConditionID: "0xbtc",
		Asset:       "BTC",
		UpTokenID:   "tok-up",
		DownTokenID: "tok-down",
		EndDate:     time.Now().UTC().Add(2 * time.Hour),
		Active:      true,
	}
}

func (f *fakeGateway) ExecuteOrder(ctx context.Context, market domain.Market, dir domain.Direction, usdSize float64) (domain.OrderFill, error) {
	return domain.OrderFill{Success: true, OrderID: "o1", SharesFilled: 10, AvgPrice: 0.5, TotalCost: 5}, nil
}

func (f *fakeGateway) GetResolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	return domain.Resolution{Resolved: true, Outcome: domain.DirectionUp, TokenIDs: []string{"tok-up"}}, nil
}

func (f *fakeGateway) GetPositionPnL(ctx context.Context, conditionID string) (domain.PositionPnL, error) {
	return domain.PositionPnL{PnL: 10}, nil
}

func (f *fakeGateway) RedeemWinnings(ctx context.Context, conditionID string, tokenIDs []string) error {
	return nil
}

func (f *fakeGateway) GetPoolBalance(ctx context.Context) (float64, error) { return 1000, nil }

type fakeSignal struct {
	calls int
}

func (f *fakeSignal) ProposeTrade(ctx context.Context, markets map[string]domain.Market, candles map[string][]domain.Candle) (domain.TradeProposal, error) {
	f.calls++
	return domain.TradeProposal{Asset: "BTC", Direction: domain.DirectionUp, Reasoning: "test"}, nil
}

type fakeCandles struct{}

func (fakeCandles) RecentCandles(ctx context.Context, asset string, limit int) ([]domain.Candle, error) {
	return nil, nil
}

type fakeNotifier struct{}

func (fakeNotifier) AnnounceProposal(ctx context.Context, trade domain.Trade, proposal domain.TradeProposal) (string, error) {
	return fmt.Sprintf("msg-%d", trade.ID), nil
}
func (fakeNotifier) AnnounceAbort(ctx context.Context, trade domain.Trade, reason string) {}
func (fakeNotifier) AnnounceExecution(ctx context.Context, trade domain.Trade, fill domain.OrderFill, conviction float64) {
}
func (fakeNotifier) AnnounceResolution(ctx context.Context, trade domain.Trade, pnl float64, top []domain.PredictorStats) {
}
func (fakeNotifier) AnnounceSettlement(ctx context.Context, s domain.Settlement, payouts []domain.Payout) {
}
func (fakeNotifier) AnnouncePayoutFailure(ctx context.Context, s domain.Settlement, failed []domain.Payout) {
}
func (fakeNotifier) AnnounceStaleResolution(ctx context.Context, trade domain.Trade, hoursStuck float64) {
}

type fakePayer struct{}

func (fakePayer) DeriveTransfer(ctx context.Context, to string, amountCents int64) (*domain.TxRequest, error) {
	return domain.NewLegacyTxRequest(137, 0, to, nil, big.NewInt(1), 80_000, nil)
}
func (fakePayer) SignAndHash(req *domain.TxRequest) (string, error) { return "0xhash", nil }
func (fakePayer) Broadcast(ctx context.Context, req *domain.TxRequest) error {
	return nil
}
func (fakePayer) ReceiptStatus(ctx context.Context, txHash string) (ports.ReceiptState, error) {
	return ports.ReceiptConfirmed, nil
}

// --- helpers ---

type testEnv struct {
	sched  *Scheduler
	store  *storage.SQLiteStore
	signal *fakeSignal
}

// monday1030 es un instante fijo dentro de la ventana de trading.
var monday1030 = time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sig := &fakeSignal{}
	lc := lifecycle.New(store, &fakeGateway{}, sig, fakeCandles{}, fakeNotifier{}, nil,
		lifecycle.Config{
			Assets:       []string{"BTC"},
			VotingWindow: 10 * time.Minute,
			MinVotes:     1,
			MinSizeFrac:  0.05,
			MaxSizeFrac:  0.10,
			MinGap:       30 * time.Minute,
		}, rand.New(rand.NewSource(1)))

	st := settlement.New(store, fakePayer{}, fakeNotifier{}, settlement.Config{
		PayoutShare:    0.5,
		MinPayoutCents: 100,
		Weights:        [3]float64{0.5, 0.3, 0.2},
		MaxRetries:     3,
	})

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DailyHour == 0 {
		cfg.DailyHour = 10
	}
	if cfg.TradingHoursStart == 0 {
		cfg.TradingHoursStart = 9
	}
	if cfg.TradingHoursEnd == 0 {
		cfg.TradingHoursEnd = 22
	}

	sched := New(store, lc, st, cfg, rand.New(rand.NewSource(1)))
	sched.now = func() time.Time { return monday1030 }
	return &testEnv{sched: sched, store: store, signal: sig}
}

func (env *testEnv) setNow(t time.Time) {
	env.sched.now = func() time.Time { return t }
}

// --- tests ---

func TestDailyTrigger_FiresOncePerDay(t *testing.T) {
	env := newTestScheduler(t, Config{})
	ctx := context.Background()

	env.sched.Tick(ctx)

	active, err := env.store.ActiveTrade(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 1, env.signal.calls)

	rs, err := env.store.RuntimeState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-31", rs.LastDailyTradeDate)

	// El mismo día no vuelve a disparar aunque el slot estuviera libre
	env.sched.Tick(ctx)
	assert.Equal(t, 1, env.signal.calls)
}

func TestDailyTrigger_BeforeHourDoesNothing(t *testing.T) {
	env := newTestScheduler(t, Config{})
	env.setNow(time.Date(2026, 8, 31, 9, 59, 0, 0, time.UTC))
	ctx := context.Background()

	env.sched.Tick(ctx)

	rs, err := env.store.RuntimeState(ctx)
	require.NoError(t, err)
	assert.Empty(t, rs.LastDailyTradeDate)
	assert.Zero(t, env.signal.calls)
}

func TestDailyTrigger_DeferredKeepsGateUnset(t *testing.T) {
	env := newTestScheduler(t, Config{})
	ctx := context.Background()

	// Un trade recién resuelto deja el cooldown del min-gap corriendo
	seedRecentResolved(t, env.store)

	env.sched.Tick(ctx)

	// Deferred: el gate diario queda sin poner y se reintentará
	rs, err := env.store.RuntimeState(ctx)
	require.NoError(t, err)
	assert.Empty(t, rs.LastDailyTradeDate)
	assert.Zero(t, env.signal.calls)
}

func TestHourlyTrigger_SeedsNextFire(t *testing.T) {
	env := newTestScheduler(t, Config{HourlyVariance: 20 * time.Minute})
	ctx := context.Background()

	// El gate diario ya está puesto para aislar el trigger horario
	require.NoError(t, env.store.SetLastDailyTradeDate(ctx, "2026-08-31"))

	env.sched.Tick(ctx)

	rs, err := env.store.RuntimeState(ctx)
	require.NoError(t, err)
	require.NotNil(t, rs.NextHourlyTradeAt)

	next := rs.NextHourlyTradeAt.In(time.UTC)
	assert.True(t, next.After(monday1030))
	// Dentro de la ventana de trading y nunca en la hora del trade diario
	assert.GreaterOrEqual(t, next.Hour(), 9)
	assert.Less(t, next.Hour(), 22)
	assert.NotEqual(t, 10, next.Hour())
}

func TestHourlyTrigger_FiresWhenDue(t *testing.T) {
	env := newTestScheduler(t, Config{})
	ctx := context.Background()

	require.NoError(t, env.store.SetLastDailyTradeDate(ctx, "2026-08-31"))
	past := monday1030.Add(-time.Minute)
	require.NoError(t, env.store.SetNextHourlyTradeAt(ctx, &past))

	env.sched.Tick(ctx)

	active, err := env.store.ActiveTrade(ctx)
	require.NoError(t, err)
	assert.NotNil(t, active)
	assert.Equal(t, 1, env.signal.calls)

	// El próximo disparo queda reprogramado en el futuro
	rs, err := env.store.RuntimeState(ctx)
	require.NoError(t, err)
	require.NotNil(t, rs.NextHourlyTradeAt)
	assert.True(t, rs.NextHourlyTradeAt.After(monday1030))
}

func TestHourlyTrigger_DeferredPushesFirePastGap(t *testing.T) {
	env := newTestScheduler(t, Config{})
	ctx := context.Background()

	require.NoError(t, env.store.SetLastDailyTradeDate(ctx, "2026-08-31"))
	seedRecentResolved(t, env.store)
	past := monday1030.Add(-time.Minute)
	require.NoError(t, env.store.SetNextHourlyTradeAt(ctx, &past))

	env.sched.Tick(ctx)

	// El trigger no se pierde: se empuja justo detrás del cooldown, antes
	// del siguiente boundary horario (11:00)
	rs, err := env.store.RuntimeState(ctx)
	require.NoError(t, err)
	require.NotNil(t, rs.NextHourlyTradeAt)
	assert.True(t, rs.NextHourlyTradeAt.After(monday1030))
	assert.True(t, rs.NextHourlyTradeAt.Before(monday1030.Add(30*time.Minute)))
	assert.Zero(t, env.signal.calls)
}

func TestWeeklyTrigger(t *testing.T) {
	env := newTestScheduler(t, Config{WeeklyPayoutDay: time.Sunday, WeeklyPayoutHour: 18})
	ctx := context.Background()

	// Domingo 19:00 con profit repartible
	sunday := time.Date(2026, 8, 30, 19, 0, 0, 0, time.UTC)
	env.setNow(sunday)
	require.NoError(t, env.store.SetLastDailyTradeDate(ctx, "2026-08-30"))
	seedProfitRound(t, env.store)

	env.sched.Tick(ctx)

	rs, err := env.store.RuntimeState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-30", rs.LastWeeklyPayout)

	// El settlement existe y quedó completado por el pipeline del tick
	profit, count, err := env.store.UnsettledProfit(ctx)
	require.NoError(t, err)
	assert.Zero(t, profit)
	assert.Zero(t, count)
}

func TestWeeklyTrigger_NotMetStillConsumesWeek(t *testing.T) {
	env := newTestScheduler(t, Config{WeeklyPayoutDay: time.Sunday, WeeklyPayoutHour: 18})
	ctx := context.Background()

	// Sin profit: un solo intento por semana, el gate se pone igualmente
	sunday := time.Date(2026, 8, 30, 19, 0, 0, 0, time.UTC)
	env.setNow(sunday)
	require.NoError(t, env.store.SetLastDailyTradeDate(ctx, "2026-08-30"))

	env.sched.Tick(ctx)

	rs, err := env.store.RuntimeState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-30", rs.LastWeeklyPayout)
}

func TestWeeklyTrigger_WrongDayDoesNothing(t *testing.T) {
	env := newTestScheduler(t, Config{WeeklyPayoutDay: time.Sunday, WeeklyPayoutHour: 18})
	ctx := context.Background()

	// Lunes: no toca
	require.NoError(t, env.store.SetLastDailyTradeDate(ctx, "2026-08-31"))
	env.sched.Tick(ctx)

	rs, err := env.store.RuntimeState(ctx)
	require.NoError(t, err)
	assert.Empty(t, rs.LastWeeklyPayout)
}

// seedRecentResolved deja un trade resuelto ahora mismo, activando el
// cooldown del min-gap.
func seedRecentResolved(t *testing.T, store *storage.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	trade, err := store.CreateTradePending(ctx, domain.Trade{
		Asset:              "BTC",
		MarketID:           "0xold",
		VotingEndsAt:       now.Add(-time.Hour),
		ResolutionDeadline: now.Add(-time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, store.MarkTradeExecuted(ctx, trade.ID, "o0", domain.DirectionUp, now))
	_, err = store.ResolveTrade(ctx, trade.ID, 5, domain.DirectionUp, now, 2.0)
	require.NoError(t, err)
}

// seedProfitRound deja un trade resuelto con profit, un acertante con
// wallet y el min-gap ya vencido.
func seedProfitRound(t *testing.T, store *storage.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	trade, err := store.CreateTradePending(ctx, domain.Trade{
		Asset:              "BTC",
		MarketID:           "0xold",
		VotingEndsAt:       now.Add(-2 * time.Hour),
		ResolutionDeadline: now.Add(-time.Hour),
	})
	require.NoError(t, err)

	_, err = store.UpsertUser(ctx, "alice", "alice")
	require.NoError(t, err)
	require.NoError(t, store.RegisterWallet(ctx, "alice",
		"0x1000000000000000000000000000000000000001"))
	require.NoError(t, store.RecordVote(ctx, trade.ID, "alice", domain.DirectionUp))
	_, err = store.SnapshotPredictions(ctx, trade.ID, []string{"alice"}, now)
	require.NoError(t, err)

	require.NoError(t, store.MarkTradeExecuted(ctx, trade.ID, "o0", domain.DirectionUp, now.Add(-time.Hour)))
	_, err = store.ResolveTrade(ctx, trade.ID, 100, domain.DirectionUp, now.Add(-time.Hour), 2.0)
	require.NoError(t, err)
}
