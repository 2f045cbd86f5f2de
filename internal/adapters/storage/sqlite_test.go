package storage

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polycouncil/internal/domain"
	"github.com/alejandrodnm/polycouncil/internal/ports"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newVotingTrade(t *testing.T, store *SQLiteStore) domain.Trade {
	t.Helper()
	now := time.Now().UTC()
	trade, err := store.CreateTradePending(context.Background(), domain.Trade{
		Asset:              "BTC",
		MarketID:           "0xcondition",
		VotingEndsAt:       now.Add(10 * time.Minute),
		ResolutionDeadline: now.Add(time.Hour),
	})
	require.NoError(t, err)
	return trade
}

// resolveTrade lleva un trade de voting a resolved con el P&L dado.
func resolveTrade(t *testing.T, store *SQLiteStore, tradeID int64, pnl float64, outcome domain.Direction) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.MarkTradeExecuted(ctx, tradeID, "order-1", outcome, time.Now().UTC()))
	_, err := store.ResolveTrade(ctx, tradeID, pnl, outcome, time.Now().UTC(), 2.0)
	require.NoError(t, err)
}

func TestCreateTradePending_SingleActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade := newVotingTrade(t, store)
	assert.Equal(t, domain.TradeStatusVoting, trade.Status)

	// Un segundo trade mientras el primero sigue activo es rechazado
	_, err := store.CreateTradePending(ctx, domain.Trade{Asset: "ETH"})
	assert.ErrorIs(t, err, domain.ErrTradeActive)

	// También con el primero en executed
	require.NoError(t, store.MarkTradeExecuted(ctx, trade.ID, "o1", domain.DirectionUp, time.Now().UTC()))
	_, err = store.CreateTradePending(ctx, domain.Trade{Asset: "ETH"})
	assert.ErrorIs(t, err, domain.ErrTradeActive)

	// Resuelto deja de bloquear
	_, err = store.ResolveTrade(ctx, trade.ID, 5.0, domain.DirectionUp, time.Now().UTC(), 2.0)
	require.NoError(t, err)
	_, err = store.CreateTradePending(ctx, domain.Trade{Asset: "ETH"})
	assert.NoError(t, err)
}

func TestActiveTrade(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active, err := store.ActiveTrade(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	trade := newVotingTrade(t, store)
	active, err = store.ActiveTrade(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, trade.ID, active.ID)
}

func TestDeleteTrade_CascadesVotes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade := newVotingTrade(t, store)
	_, err := store.UpsertUser(ctx, "u1", "alice")
	require.NoError(t, err)
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u1", domain.DirectionUp))

	require.NoError(t, store.DeleteTrade(ctx, trade.ID))

	counts, err := store.VoteCounts(ctx, trade.ID, false)
	require.NoError(t, err)
	assert.Zero(t, counts.Total())

	_, err = store.GetTrade(ctx, trade.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordVote_UpsertUntilSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade := newVotingTrade(t, store)
	_, err := store.UpsertUser(ctx, "u1", "alice")
	require.NoError(t, err)

	// El voto vivo se puede cambiar
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u1", domain.DirectionUp))
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u1", domain.DirectionDown))

	counts, err := store.VoteCounts(ctx, trade.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.VoteCounts{Up: 0, Down: 1}, counts)

	// Tras el snapshot el voto es inmutable
	_, err = store.SnapshotPredictions(ctx, trade.ID, []string{"u1"}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u1", domain.DirectionUp))

	counts, err = store.VoteCounts(ctx, trade.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.VoteCounts{Up: 0, Down: 1}, counts)
}

func TestSnapshotPredictions_PurgesIneligible(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade := newVotingTrade(t, store)
	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := store.UpsertUser(ctx, u, u)
		require.NoError(t, err)
	}
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u1", domain.DirectionUp))
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u2", domain.DirectionUp))
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u3", domain.DirectionDown))

	// u3 no es elegible: su voto se purga y no cuenta
	counts, err := store.SnapshotPredictions(ctx, trade.ID, []string{"u1", "u2"}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.VoteCounts{Up: 2, Down: 0}, counts)

	preds, err := store.SnapshottedPredictions(ctx, trade.ID)
	require.NoError(t, err)
	assert.Len(t, preds, 2)
}

func TestResolveTrade_UpdatesUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade := newVotingTrade(t, store)
	for _, u := range []string{"u1", "u2"} {
		_, err := store.UpsertUser(ctx, u, u)
		require.NoError(t, err)
	}
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u1", domain.DirectionUp))
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u2", domain.DirectionDown))
	_, err := store.SnapshotPredictions(ctx, trade.ID, []string{"u1", "u2"}, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, store.MarkTradeExecuted(ctx, trade.ID, "o1", domain.DirectionUp, time.Now().UTC()))
	preds, err := store.ResolveTrade(ctx, trade.ID, 12.5, domain.DirectionUp, time.Now().UTC(), 2.0)
	require.NoError(t, err)
	require.Len(t, preds, 2)

	// El acertante avanza racha y reputación; el otro resetea racha
	u1, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, u1.Streak)
	assert.InDelta(t, domain.ReputationStart+domain.ReputationStep, u1.Reputation, 1e-9)

	u2, err := store.GetUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 0, u2.Streak)
	assert.InDelta(t, domain.ReputationStart, u2.Reputation, 1e-9)

	got, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusResolved, got.Status)
	require.NotNil(t, got.PnL)
	assert.Equal(t, 12.5, *got.PnL)
}

func TestRegisterWallet_CaseInsensitiveUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2"} {
		_, err := store.UpsertUser(ctx, u, u)
		require.NoError(t, err)
	}
	require.NoError(t, store.RegisterWallet(ctx, "u1", "0xAbCd000000000000000000000000000000000001"))

	// La misma address con otro case es la misma wallet
	err := store.RegisterWallet(ctx, "u2", "0xabcd000000000000000000000000000000000001")
	assert.ErrorIs(t, err, domain.ErrWalletTaken)

	// El dueño puede re-registrar la suya
	assert.NoError(t, store.RegisterWallet(ctx, "u1", "0xABCD000000000000000000000000000000000001"))

	// Usuario inexistente
	err = store.RegisterWallet(ctx, "ghost", "0x0000000000000000000000000000000000000002")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRuntimeState_Roundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rs, err := store.RuntimeState(ctx)
	require.NoError(t, err)
	assert.False(t, rs.EmergencyStopped)
	assert.Empty(t, rs.LastDailyTradeDate)
	assert.Nil(t, rs.NextHourlyTradeAt)

	next := time.Date(2026, 8, 30, 15, 17, 0, 0, time.UTC)
	require.NoError(t, store.SetEmergencyStop(ctx, true))
	require.NoError(t, store.SetLastDailyTradeDate(ctx, "2026-08-30"))
	require.NoError(t, store.SetNextHourlyTradeAt(ctx, &next))
	require.NoError(t, store.SetLastWeeklyPayout(ctx, "2026-08-28"))

	rs, err = store.RuntimeState(ctx)
	require.NoError(t, err)
	assert.True(t, rs.EmergencyStopped)
	assert.Equal(t, "2026-08-30", rs.LastDailyTradeDate)
	require.NotNil(t, rs.NextHourlyTradeAt)
	assert.True(t, next.Equal(*rs.NextHourlyTradeAt))
	assert.Equal(t, "2026-08-28", rs.LastWeeklyPayout)

	// El puntero se puede volver a poner a nil
	require.NoError(t, store.SetNextHourlyTradeAt(ctx, nil))
	rs, err = store.RuntimeState(ctx)
	require.NoError(t, err)
	assert.Nil(t, rs.NextHourlyTradeAt)
}

// seedResolvedRound crea un trade resuelto con un acertante con wallet.
func seedResolvedRound(t *testing.T, store *SQLiteStore, pnl float64) {
	t.Helper()
	ctx := context.Background()

	trade := newVotingTrade(t, store)
	for _, u := range []string{"u1", "u2"} {
		_, err := store.UpsertUser(ctx, u, u)
		require.NoError(t, err)
	}
	require.NoError(t, store.RegisterWallet(ctx, "u1", "0x1000000000000000000000000000000000000001"))
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u1", domain.DirectionUp))
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u2", domain.DirectionDown))
	_, err := store.SnapshotPredictions(ctx, trade.ID, []string{"u1", "u2"}, time.Now().UTC())
	require.NoError(t, err)
	resolveTrade(t, store, trade.ID, pnl, domain.DirectionUp)
}

func defaultSettlementParams() ports.CreateSettlementParams {
	return ports.CreateSettlementParams{
		PayoutShare:    0.5,
		MinPayoutCents: 100,
		Weights:        [3]float64{0.5, 0.3, 0.2},
		MaxWinners:     3,
	}
}

func TestCreateSettlement(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedResolvedRound(t, store, 100.0)

	settlement, payouts, err := store.CreateSettlement(ctx, defaultSettlementParams())
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusDistributing, settlement.Status)

	// Un solo ganador elegible (u2 falló) se lleva todo el reparto
	require.Len(t, payouts, 1)
	assert.Equal(t, "u1", payouts[0].UserID)
	assert.Equal(t, int64(5000), payouts[0].AmountCents)
	assert.Equal(t, 1, payouts[0].Rank)

	// Los trades quedan reclamados: no hay profit sin settlement
	profit, count, err := store.UnsettledProfit(ctx)
	require.NoError(t, err)
	assert.Zero(t, profit)
	assert.Zero(t, count)

	// Un segundo settlement con el primero incompleto es rechazado
	_, _, err = store.CreateSettlement(ctx, defaultSettlementParams())
	assert.ErrorIs(t, err, domain.ErrSettlementIncomplete)
}

func TestCreateSettlement_NotDue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Sin trades resueltos
	_, _, err := store.CreateSettlement(ctx, defaultSettlementParams())
	assert.ErrorIs(t, err, domain.ErrSettlementNotDue)

	// Con pérdidas tampoco hay reparto
	seedResolvedRound(t, store, -40.0)
	_, _, err = store.CreateSettlement(ctx, defaultSettlementParams())
	assert.ErrorIs(t, err, domain.ErrSettlementNotDue)
}

func TestCreateSettlement_BelowMinimum(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// $1 de profit al 50% = 50 céntimos, por debajo del mínimo de $5
	seedResolvedRound(t, store, 1.0)
	params := defaultSettlementParams()
	params.MinPayoutCents = 500
	_, _, err := store.CreateSettlement(ctx, params)
	assert.ErrorIs(t, err, domain.ErrSettlementNotDue)
}

func TestPayoutPipeline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedResolvedRound(t, store, 100.0)
	settlement, payouts, err := store.CreateSettlement(ctx, defaultSettlementParams())
	require.NoError(t, err)
	payout := payouts[0]

	// Request persistido antes de firmar
	req, err := domain.NewLegacyTxRequest(137, 9, "0x1000000000000000000000000000000000000001",
		nil, big.NewInt(30_000_000_000), 80_000, []byte{0x01})
	require.NoError(t, err)
	require.NoError(t, store.SetPayoutTxRequest(ctx, payout.ID, req))

	// Hash persistido antes del broadcast
	require.NoError(t, store.SetPayoutTxHash(ctx, payout.ID, "0xhash1"))

	got, err := store.PayoutsBySettlement(ctx, settlement.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.PayoutStatusPending, got[0].Status)
	assert.Equal(t, "0xhash1", got[0].TxHash)
	require.NotNil(t, got[0].TxRequest)
	assert.Equal(t, uint64(9), got[0].TxRequest.Nonce)

	// Un revert limpia hash y request y avanza el contador
	require.NoError(t, store.MarkPayoutRetry(ctx, payout.ID, "reverted", time.Now().UTC()))
	got, err = store.PayoutsBySettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, got[0].Status)
	assert.Empty(t, got[0].TxHash)
	assert.Nil(t, got[0].TxRequest)
	assert.Equal(t, 1, got[0].RetryCount)
	require.NotNil(t, got[0].LastRetryAt)

	// El envío definitivo es terminal y limpia el error
	require.NoError(t, store.MarkPayoutSent(ctx, payout.ID))
	got, err = store.PayoutsBySettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusSent, got[0].Status)
	assert.Empty(t, got[0].Error)

	// Completar el settlement desbloquea el siguiente trade
	require.NoError(t, store.SetSettlementStatus(ctx, settlement.ID, domain.SettlementStatusCompleted, ""))
	incomplete, err := store.IncompleteSettlement(ctx)
	require.NoError(t, err)
	assert.Nil(t, incomplete)
}

func TestTopPredictors_Ordering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Dos rondas: u1 acierta ambas, u2 una, u3 ninguna
	users := []string{"u1", "u2", "u3"}
	for _, u := range users {
		_, err := store.UpsertUser(ctx, u, u)
		require.NoError(t, err)
	}

	trade := newVotingTrade(t, store)
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u1", domain.DirectionUp))
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u2", domain.DirectionUp))
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u3", domain.DirectionDown))
	_, err := store.SnapshotPredictions(ctx, trade.ID, users, time.Now().UTC())
	require.NoError(t, err)
	resolveTrade(t, store, trade.ID, 10, domain.DirectionUp)

	trade = newVotingTrade(t, store)
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u1", domain.DirectionDown))
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u2", domain.DirectionUp))
	require.NoError(t, store.RecordVote(ctx, trade.ID, "u3", domain.DirectionUp))
	_, err = store.SnapshotPredictions(ctx, trade.ID, users, time.Now().UTC())
	require.NoError(t, err)
	resolveTrade(t, store, trade.ID, 10, domain.DirectionDown)

	stats, err := store.TopPredictors(ctx, 3, false)
	require.NoError(t, err)

	// u3 no acertó nada y queda fuera del ranking
	require.Len(t, stats, 2)
	assert.Equal(t, "u1", stats[0].UserID)
	assert.Equal(t, 2, stats[0].CorrectVotes)
	assert.Equal(t, "u2", stats[1].UserID)
	assert.Equal(t, 1, stats[1].CorrectVotes)
}

func TestTradeHistoryAndLastResolved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	last, err := store.LastResolvedAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	trade := newVotingTrade(t, store)
	resolveTrade(t, store, trade.ID, 3.0, domain.DirectionUp)

	history, err := store.TradeHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, trade.ID, history[0].ID)

	last, err = store.LastResolvedAt(ctx)
	require.NoError(t, err)
	assert.NotNil(t, last)
}
