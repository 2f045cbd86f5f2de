package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// Store es la única fuente de verdad tras un restart. Todos los invariantes
// check-then-act (un solo trade activo, un solo settlement incompleto,
// wallet única) se re-validan dentro de la transacción correspondiente,
// no solo antes — el boundary transaccional es el único mutex real.
type Store interface {
	// Users
	UpsertUser(ctx context.Context, id, name string) (domain.User, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
	RegisterWallet(ctx context.Context, userID, wallet string) error

	// Votos vivos y snapshot
	RecordVote(ctx context.Context, tradeID int64, userID string, dir domain.Direction) error
	LiveVoterIDs(ctx context.Context, tradeID int64) ([]string, error)
	// SnapshotPredictions congela los votos de los usuarios elegibles con un
	// timestamp compartido y purga el resto, en una sola transacción.
	// Devuelve el recuento de votos congelados.
	SnapshotPredictions(ctx context.Context, tradeID int64, eligible []string, at time.Time) (domain.VoteCounts, error)
	VoteCounts(ctx context.Context, tradeID int64, snapshottedOnly bool) (domain.VoteCounts, error)
	SnapshottedPredictions(ctx context.Context, tradeID int64) ([]domain.Prediction, error)

	// Trades
	// CreateTradePending re-comprueba "sin trade activo" y "sin settlement
	// incompleto" dentro de la transacción y solo entonces inserta.
	// Devuelve domain.ErrTradeActive / domain.ErrSettlementIncomplete.
	CreateTradePending(ctx context.Context, t domain.Trade) (domain.Trade, error)
	GetTrade(ctx context.Context, id int64) (domain.Trade, error)
	ActiveTrade(ctx context.Context) (*domain.Trade, error)
	SetTradeMessageRef(ctx context.Context, id int64, ref string) error
	MarkTradeExecuted(ctx context.Context, id int64, orderID string, dir domain.Direction, at time.Time) error
	// DeleteTrade es el abort: borra el trade y sus predicciones en cascada.
	DeleteTrade(ctx context.Context, id int64) error
	// ResolveTrade marca el trade resuelto con su P&L, fija la corrección de
	// cada predicción snapshotted y actualiza streak/reputación de los
	// acertantes — todo en una transacción.
	ResolveTrade(ctx context.Context, id int64, pnl float64, outcome domain.Direction, at time.Time, reputationCap float64) ([]domain.Prediction, error)
	VotingTradesDue(ctx context.Context, now time.Time) ([]domain.Trade, error)
	ExecutedTradesDue(ctx context.Context, now time.Time) ([]domain.Trade, error)
	LastResolvedAt(ctx context.Context) (*time.Time, error)
	TradeHistory(ctx context.Context, limit int) ([]domain.Trade, error)

	// Settlements
	UnsettledProfit(ctx context.Context) (float64, int, error)
	// TopPredictors rankea los votantes snapshotted de los trades resueltos
	// sin settlement: aciertos desc, reputación desc, votos desc, ID asc.
	// Si walletOnly, excluye usuarios sin wallet registrada.
	TopPredictors(ctx context.Context, limit int, walletOnly bool) ([]domain.PredictorStats, error)
	// CreateSettlement re-comprueba las cuatro condiciones de disparo con
	// datos vivos dentro de la transacción, reclama los trades y crea los
	// payouts con importes inmutables — un solo commit.
	CreateSettlement(ctx context.Context, p CreateSettlementParams) (domain.Settlement, []domain.Payout, error)
	IncompleteSettlement(ctx context.Context) (*domain.Settlement, error)
	SetSettlementStatus(ctx context.Context, id int64, status domain.SettlementStatus, errMsg string) error
	PayoutsBySettlement(ctx context.Context, settlementID int64) ([]domain.Payout, error)
	SetPayoutTxRequest(ctx context.Context, payoutID int64, req *domain.TxRequest) error
	SetPayoutTxHash(ctx context.Context, payoutID int64, hash string) error
	MarkPayoutSent(ctx context.Context, payoutID int64) error
	// MarkPayoutRetry limpia hash y request, registra el error y avanza el
	// contador de retries con su timestamp.
	MarkPayoutRetry(ctx context.Context, payoutID int64, errMsg string, at time.Time) error
	MarkPayoutFailed(ctx context.Context, payoutID int64, errMsg string) error

	// Runtime state (singleton)
	RuntimeState(ctx context.Context) (domain.RuntimeState, error)
	SetEmergencyStop(ctx context.Context, stopped bool) error
	SetLastDailyTradeDate(ctx context.Context, date string) error
	SetNextHourlyTradeAt(ctx context.Context, at *time.Time) error
	SetLastWeeklyPayout(ctx context.Context, date string) error

	// Leaderboard global (todos los trades resueltos)
	Leaderboard(ctx context.Context, limit int) ([]domain.PredictorStats, error)

	Close() error
}

// CreateSettlementParams son las condiciones de disparo que la transacción
// de creación re-valida contra datos vivos.
type CreateSettlementParams struct {
	PayoutShare    float64
	MinPayoutCents int64
	Weights        [3]float64
	MaxWinners     int
	TriggeredAt    time.Time
}
