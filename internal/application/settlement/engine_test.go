package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polycouncil/internal/adapters/storage"
	"github.com/alejandrodnm/polycouncil/internal/domain"
	"github.com/alejandrodnm/polycouncil/internal/ports"
)

// --- fakes ---

type fakePayer struct {
	deriveErr    error
	broadcastErr error
	receipts     map[string]ports.ReceiptState
	receiptErr   error

	derived   int
	broadcast int
	nextNonce uint64
}

func (f *fakePayer) DeriveTransfer(ctx context.Context, to string, amountCents int64) (*domain.TxRequest, error) {
	if f.deriveErr != nil {
		return nil, f.deriveErr
	}
	f.derived++
	nonce := f.nextNonce
	f.nextNonce++
	return domain.NewLegacyTxRequest(137, nonce, to, nil, big.NewInt(30_000_000_000), 80_000, nil)
}

func (f *fakePayer) SignAndHash(req *domain.TxRequest) (string, error) {
	// Determinista: el mismo request produce siempre el mismo hash
	return fmt.Sprintf("0xhash-%d", req.Nonce), nil
}

func (f *fakePayer) Broadcast(ctx context.Context, req *domain.TxRequest) error {
	f.broadcast++
	return f.broadcastErr
}

func (f *fakePayer) ReceiptStatus(ctx context.Context, txHash string) (ports.ReceiptState, error) {
	if f.receiptErr != nil {
		return 0, f.receiptErr
	}
	state, ok := f.receipts[txHash]
	if !ok {
		return ports.ReceiptMissing, nil
	}
	return state, nil
}

type fakeNotifier struct {
	settlements int
	failures    int
	failedSeen  []domain.Payout
}

func (f *fakeNotifier) AnnounceProposal(ctx context.Context, trade domain.Trade, proposal domain.TradeProposal) (string, error) {
	return "msg", nil
}
func (f *fakeNotifier) AnnounceAbort(ctx context.Context, trade domain.Trade, reason string) {}
func (f *fakeNotifier) AnnounceExecution(ctx context.Context, trade domain.Trade, fill domain.OrderFill, conviction float64) {
}
func (f *fakeNotifier) AnnounceResolution(ctx context.Context, trade domain.Trade, pnl float64, top []domain.PredictorStats) {
}
func (f *fakeNotifier) AnnounceSettlement(ctx context.Context, s domain.Settlement, payouts []domain.Payout) {
	f.settlements++
}
func (f *fakeNotifier) AnnouncePayoutFailure(ctx context.Context, s domain.Settlement, failed []domain.Payout) {
	f.failures++
	f.failedSeen = failed
}
func (f *fakeNotifier) AnnounceStaleResolution(ctx context.Context, trade domain.Trade, hoursStuck float64) {
}

// --- helpers ---

type testEnv struct {
	engine   *Engine
	store    *storage.SQLiteStore
	payer    *fakePayer
	notifier *fakeNotifier
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:    store,
		payer:    &fakePayer{receipts: map[string]ports.ReceiptState{}},
		notifier: &fakeNotifier{},
	}
	env.engine = New(store, env.payer, env.notifier, Config{
		PayoutShare:    0.5,
		MinPayoutCents: 100,
		Weights:        [3]float64{0.5, 0.3, 0.2},
		MaxRetries:     3,
		Backoff:        func(int) time.Duration { return 0 },
	})
	return env
}

// seedProfit crea un trade resuelto con profit y dos acertantes con wallet.
func seedProfit(t *testing.T, env *testEnv, pnl float64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	trade, err := env.store.CreateTradePending(ctx, domain.Trade{
		Asset:              "BTC",
		MarketID:           "0xbtc",
		VotingEndsAt:       now,
		ResolutionDeadline: now,
	})
	require.NoError(t, err)

	users := []string{"alice", "bob", "carol"}
	for i, u := range users {
		_, err := env.store.UpsertUser(ctx, u, u)
		require.NoError(t, err)
		require.NoError(t, env.store.RegisterWallet(ctx, u,
			fmt.Sprintf("0x%040d", i+1)))
	}
	// alice y bob aciertan, carol no
	require.NoError(t, env.store.RecordVote(ctx, trade.ID, "alice", domain.DirectionUp))
	require.NoError(t, env.store.RecordVote(ctx, trade.ID, "bob", domain.DirectionUp))
	require.NoError(t, env.store.RecordVote(ctx, trade.ID, "carol", domain.DirectionDown))
	_, err = env.store.SnapshotPredictions(ctx, trade.ID, users, now)
	require.NoError(t, err)

	require.NoError(t, env.store.MarkTradeExecuted(ctx, trade.ID, "o1", domain.DirectionUp, now))
	_, err = env.store.ResolveTrade(ctx, trade.ID, pnl, domain.DirectionUp, now, 2.0)
	require.NoError(t, err)
}

func settlementByID(t *testing.T, env *testEnv) domain.Settlement {
	t.Helper()
	s, err := env.store.IncompleteSettlement(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	return *s
}

// --- tests ---

func TestTriggerSettlement_HappyPath(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	seedProfit(t, env, 100.0)

	fired, err := env.engine.TriggerSettlement(ctx)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, 1, env.notifier.settlements)

	// El primer pase ya emitió ambos payouts; las receipts llegan en el
	// tick siguiente
	env.payer.receipts["0xhash-0"] = ports.ReceiptConfirmed
	env.payer.receipts["0xhash-1"] = ports.ReceiptConfirmed
	require.NoError(t, env.engine.ProcessIncomplete(ctx))

	incomplete, err := env.store.IncompleteSettlement(ctx)
	require.NoError(t, err)
	assert.Nil(t, incomplete)
	assert.Equal(t, 2, env.payer.derived)
	assert.Equal(t, 2, env.payer.broadcast)
}

func TestTriggerSettlement_SplitAmounts(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	// $100 al 50% = 5000 céntimos entre dos ganadores (pesos 0.5/0.3)
	seedProfit(t, env, 100.0)
	fired, err := env.engine.TriggerSettlement(ctx)
	require.NoError(t, err)
	require.True(t, fired)

	s := settlementByID(t, env)
	payouts, err := env.store.PayoutsBySettlement(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 2)

	var total int64
	for _, p := range payouts {
		total += p.AmountCents
	}
	assert.Equal(t, int64(5000), total)
	assert.Greater(t, payouts[0].AmountCents, payouts[1].AmountCents)
	assert.Equal(t, 1, payouts[0].Rank)
	assert.Equal(t, 2, payouts[1].Rank)
}

func TestTriggerSettlement_NotDue(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	// Sin trades resueltos no dispara
	fired, err := env.engine.TriggerSettlement(ctx)
	require.NoError(t, err)
	assert.False(t, fired)

	// Con pérdidas tampoco
	seedProfit(t, env, -50.0)
	fired, err = env.engine.TriggerSettlement(ctx)
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Zero(t, env.notifier.settlements)
}

func TestTriggerSettlement_EmergencyStopBlocks(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	seedProfit(t, env, 100.0)
	require.NoError(t, env.store.SetEmergencyStop(ctx, true))

	fired, err := env.engine.TriggerSettlement(ctx)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestProcessIncomplete_RevertRetriesThenSucceeds(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	seedProfit(t, env, 100.0)
	_, err := env.engine.TriggerSettlement(ctx)
	require.NoError(t, err)

	// Ambas transacciones revierten: nuevo intento con request fresco
	env.payer.receipts["0xhash-0"] = ports.ReceiptReverted
	env.payer.receipts["0xhash-1"] = ports.ReceiptReverted
	require.NoError(t, env.engine.ProcessIncomplete(ctx))

	s := settlementByID(t, env)
	payouts, err := env.store.PayoutsBySettlement(ctx, s.ID)
	require.NoError(t, err)
	for _, p := range payouts {
		assert.Equal(t, 1, p.RetryCount)
		assert.Empty(t, p.TxHash)
		assert.Nil(t, p.TxRequest)
	}

	// El siguiente pase re-deriva y reenvía; esta vez confirman
	require.NoError(t, env.engine.ProcessIncomplete(ctx))
	env.payer.receipts["0xhash-2"] = ports.ReceiptConfirmed
	env.payer.receipts["0xhash-3"] = ports.ReceiptConfirmed
	require.NoError(t, env.engine.ProcessIncomplete(ctx))

	incomplete, err := env.store.IncompleteSettlement(ctx)
	require.NoError(t, err)
	assert.Nil(t, incomplete)
}

func TestProcessIncomplete_PendingReceiptWaits(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	seedProfit(t, env, 100.0)
	_, err := env.engine.TriggerSettlement(ctx)
	require.NoError(t, err)
	broadcastAfterTrigger := env.payer.broadcast

	// En vuelo: ni reenvía ni avanza el contador
	env.payer.receipts["0xhash-0"] = ports.ReceiptPending
	env.payer.receipts["0xhash-1"] = ports.ReceiptPending
	require.NoError(t, env.engine.ProcessIncomplete(ctx))

	assert.Equal(t, broadcastAfterTrigger, env.payer.broadcast)
	s := settlementByID(t, env)
	payouts, err := env.store.PayoutsBySettlement(ctx, s.ID)
	require.NoError(t, err)
	for _, p := range payouts {
		assert.Zero(t, p.RetryCount)
		assert.Equal(t, domain.PayoutStatusPending, p.Status)
	}
}

func TestProcessIncomplete_MissingHashResendsVerbatim(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	seedProfit(t, env, 100.0)
	_, err := env.engine.TriggerSettlement(ctx)
	require.NoError(t, err)
	derivedAfterTrigger := env.payer.derived

	// La chain nunca vio los hashes: reenvío literal del request
	// persistido, sin re-derivar nonce ni gas
	require.NoError(t, env.engine.ProcessIncomplete(ctx))
	assert.Equal(t, derivedAfterTrigger, env.payer.derived)

	s := settlementByID(t, env)
	payouts, err := env.store.PayoutsBySettlement(ctx, s.ID)
	require.NoError(t, err)
	// El hash no cambia: mismo request, misma transacción
	assert.Equal(t, "0xhash-0", payouts[0].TxHash)
}

func TestProcessIncomplete_ExhaustedEngagesEmergencyStop(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	seedProfit(t, env, 100.0)
	_, err := env.engine.TriggerSettlement(ctx)
	require.NoError(t, err)

	// Cada ciclo reenvía y revierte hasta agotar los retries
	for i := 0; i < 10; i++ {
		s, errIncomplete := env.store.IncompleteSettlement(ctx)
		require.NoError(t, errIncomplete)
		if s == nil {
			break
		}
		payouts, errPayouts := env.store.PayoutsBySettlement(ctx, s.ID)
		require.NoError(t, errPayouts)
		for _, p := range payouts {
			if p.TxHash != "" {
				env.payer.receipts[p.TxHash] = ports.ReceiptReverted
			}
		}
		require.NoError(t, env.engine.ProcessIncomplete(ctx))
	}

	// Settlement failed + emergency stop + aviso con el detalle
	incomplete, err := env.store.IncompleteSettlement(ctx)
	require.NoError(t, err)
	assert.Nil(t, incomplete)

	rs, err := env.store.RuntimeState(ctx)
	require.NoError(t, err)
	assert.True(t, rs.EmergencyStopped)
	assert.Equal(t, 1, env.notifier.failures)
	assert.NotEmpty(t, env.notifier.failedSeen)

	// Con el stop activo no se dispara nada nuevo
	seedProfit(t, env, 100.0)
	fired, err := env.engine.TriggerSettlement(ctx)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestProcessIncomplete_NoSettlement(t *testing.T) {
	env := newTestEngine(t)
	assert.NoError(t, env.engine.ProcessIncomplete(context.Background()))
}

func TestProcessIncomplete_ReceiptErrorKeepsDistributing(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	seedProfit(t, env, 100.0)
	_, err := env.engine.TriggerSettlement(ctx)
	require.NoError(t, err)

	// Un error transitorio del RPC no toca el estado del payout
	env.payer.receiptErr = errors.New("rpc down")
	require.NoError(t, env.engine.ProcessIncomplete(ctx))

	s := settlementByID(t, env)
	assert.Equal(t, domain.SettlementStatusDistributing, s.Status)
}
