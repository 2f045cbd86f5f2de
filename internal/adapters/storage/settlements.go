package storage

// settlements.go — creación atómica de settlements y pipeline de payouts.
//
// CreateSettlement es el commitment irrevocable de "debemos este dinero":
// re-valida las cuatro condiciones de disparo con datos vivos dentro de la
// transacción, reclama los trades (su profit no vuelve a contarse pase lo
// que pase con los payouts) y crea los payouts con importes inmutables.
// Todo lo que viene después es maquinaria de retry para que las
// transferencias on-chain cuadren con lo committeado aquí.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/domain"
	"github.com/alejandrodnm/polycouncil/internal/ports"
)

// UnsettledProfit devuelve la suma de P&L y el número de trades resueltos
// aún sin reclamar por ningún settlement.
func (s *SQLiteStore) UnsettledProfit(ctx context.Context) (float64, int, error) {
	var profit float64
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(pnl), 0), COUNT(*)
		FROM trades WHERE status = 'resolved' AND settlement_id IS NULL
	`).Scan(&profit, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("storage.UnsettledProfit: %w", err)
	}
	return profit, count, nil
}

const topPredictorsQuery = `
	SELECT u.id, u.name, COALESCE(u.wallet, ''), u.reputation, u.streak, u.best_streak,
	       SUM(CASE WHEN p.correct = 1 THEN 1 ELSE 0 END) AS correct_votes,
	       COUNT(p.id) AS total_votes
	FROM predictions p
	JOIN users u ON u.id = p.user_id
	JOIN trades t ON t.id = p.trade_id
	WHERE t.status = 'resolved' AND t.settlement_id IS NULL
	  AND p.snapshot_at IS NOT NULL
	  %s
	GROUP BY u.id
	HAVING correct_votes > 0
	ORDER BY correct_votes DESC, u.reputation DESC, total_votes DESC, u.id ASC
	LIMIT ?`

// TopPredictors rankea a los acertantes de los trades sin settlement:
// aciertos desc, reputación desc, votos desc, user ID asc como desempate
// determinista final.
func (s *SQLiteStore) TopPredictors(ctx context.Context, limit int, walletOnly bool) ([]domain.PredictorStats, error) {
	walletFilter := ""
	if walletOnly {
		walletFilter = "AND u.wallet IS NOT NULL"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(topPredictorsQuery, walletFilter), limit)
	if err != nil {
		return nil, fmt.Errorf("storage.TopPredictors: %w", err)
	}
	stats, err := collectPredictorStats(rows)
	if err != nil {
		return nil, fmt.Errorf("storage.TopPredictors: %w", err)
	}
	return stats, nil
}

// CreateSettlement crea el settlement en una sola transacción. Devuelve
// domain.ErrSettlementIncomplete si hay uno previo sin completar y
// domain.ErrSettlementNotDue si alguna condición de disparo dejó de
// cumplirse entre el pre-check y el commit.
func (s *SQLiteStore) CreateSettlement(ctx context.Context, p ports.CreateSettlementParams) (domain.Settlement, []domain.Payout, error) {
	var settlement domain.Settlement

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return settlement, nil, fmt.Errorf("storage.CreateSettlement: begin tx: %w", err)
	}
	defer tx.Rollback()

	// 1. Serialización de ciclos de payout
	var incomplete int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM settlements WHERE status IN ('pending', 'distributing')`,
	).Scan(&incomplete); err != nil {
		return settlement, nil, fmt.Errorf("storage.CreateSettlement: count incomplete: %w", err)
	}
	if incomplete > 0 {
		return settlement, nil, domain.ErrSettlementIncomplete
	}

	// 2. Profit repartible con datos vivos
	var profit float64
	var tradeCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(pnl), 0), COUNT(*)
		FROM trades WHERE status = 'resolved' AND settlement_id IS NULL
	`).Scan(&profit, &tradeCount); err != nil {
		return settlement, nil, fmt.Errorf("storage.CreateSettlement: profit: %w", err)
	}
	if tradeCount == 0 || profit <= 0 {
		return settlement, nil, domain.ErrSettlementNotDue
	}

	// 3. Reparto mínimo
	totalCents := domain.PayoutTotalCents(profit, p.PayoutShare)
	if totalCents < p.MinPayoutCents {
		return settlement, nil, domain.ErrSettlementNotDue
	}

	// 4. Al menos un ganador elegible (acertante con wallet)
	maxWinners := p.MaxWinners
	if maxWinners <= 0 || maxWinners > 3 {
		maxWinners = 3
	}
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(topPredictorsQuery, "AND u.wallet IS NOT NULL"), maxWinners)
	if err != nil {
		return settlement, nil, fmt.Errorf("storage.CreateSettlement: winners: %w", err)
	}
	winners, err := collectPredictorStats(rows)
	if err != nil {
		return settlement, nil, fmt.Errorf("storage.CreateSettlement: winners: %w", err)
	}
	if len(winners) == 0 {
		return settlement, nil, domain.ErrSettlementNotDue
	}

	// Commitment: settlement + reclamar trades + payouts inmutables
	triggeredAt := p.TriggeredAt
	if triggeredAt.IsZero() {
		triggeredAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO settlements (status, triggered_at) VALUES (?, ?)`,
		string(domain.SettlementStatusDistributing), fmtTime(triggeredAt))
	if err != nil {
		return settlement, nil, fmt.Errorf("storage.CreateSettlement: insert settlement: %w", err)
	}
	settlementID, err := res.LastInsertId()
	if err != nil {
		return settlement, nil, fmt.Errorf("storage.CreateSettlement: last id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE trades SET settlement_id = ?
		WHERE status = 'resolved' AND settlement_id IS NULL
	`, settlementID); err != nil {
		return settlement, nil, fmt.Errorf("storage.CreateSettlement: claim trades: %w", err)
	}

	amounts := domain.SplitCents(totalCents, p.Weights, len(winners))
	payouts := make([]domain.Payout, 0, len(winners))
	for i, w := range winners {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO payouts (user_id, settlement_id, amount_cents, rank, status)
			VALUES (?, ?, ?, ?, 'pending')
		`, w.UserID, settlementID, amounts[i], i+1)
		if err != nil {
			return settlement, nil, fmt.Errorf("storage.CreateSettlement: insert payout: %w", err)
		}
		payoutID, err := res.LastInsertId()
		if err != nil {
			return settlement, nil, fmt.Errorf("storage.CreateSettlement: payout id: %w", err)
		}
		payouts = append(payouts, domain.Payout{
			ID:           payoutID,
			UserID:       w.UserID,
			SettlementID: settlementID,
			AmountCents:  amounts[i],
			Rank:         i + 1,
			Status:       domain.PayoutStatusPending,
		})
	}

	if err := tx.Commit(); err != nil {
		return settlement, nil, fmt.Errorf("storage.CreateSettlement: commit: %w", err)
	}

	settlement = domain.Settlement{
		ID:          settlementID,
		Status:      domain.SettlementStatusDistributing,
		TriggeredAt: triggeredAt,
	}
	return settlement, payouts, nil
}

// IncompleteSettlement devuelve el settlement pendiente o en distribución,
// o nil si no hay.
func (s *SQLiteStore) IncompleteSettlement(ctx context.Context) (*domain.Settlement, error) {
	var st domain.Settlement
	var triggeredAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, triggered_at, error
		FROM settlements WHERE status IN ('pending', 'distributing') LIMIT 1
	`).Scan(&st.ID, (*string)(&st.Status), &triggeredAt, &st.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.IncompleteSettlement: %w", err)
	}
	if st.TriggeredAt, err = parseTime(triggeredAt); err != nil {
		return nil, fmt.Errorf("storage.IncompleteSettlement: triggered_at: %w", err)
	}
	return &st, nil
}

// SetSettlementStatus actualiza el estado y el mensaje de error.
func (s *SQLiteStore) SetSettlementStatus(ctx context.Context, id int64, status domain.SettlementStatus, errMsg string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE settlements SET status = ?, error = ? WHERE id = ?`,
		string(status), errMsg, id,
	); err != nil {
		return fmt.Errorf("storage.SetSettlementStatus: %w", err)
	}
	return nil
}

// PayoutsBySettlement devuelve los payouts de un settlement por rank.
func (s *SQLiteStore) PayoutsBySettlement(ctx context.Context, settlementID int64) ([]domain.Payout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, settlement_id, amount_cents, rank, status,
		       tx_hash, tx_request, retry_count, last_retry_at, error
		FROM payouts WHERE settlement_id = ? ORDER BY rank
	`, settlementID)
	if err != nil {
		return nil, fmt.Errorf("storage.PayoutsBySettlement: %w", err)
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		var p domain.Payout
		var txRequest, lastRetryAt sql.NullString

		if err := rows.Scan(&p.ID, &p.UserID, &p.SettlementID, &p.AmountCents,
			&p.Rank, (*string)(&p.Status), &p.TxHash, &txRequest,
			&p.RetryCount, &lastRetryAt, &p.Error); err != nil {
			return nil, fmt.Errorf("storage.PayoutsBySettlement: scan: %w", err)
		}

		if txRequest.Valid && txRequest.String != "" {
			var req domain.TxRequest
			if err := json.Unmarshal([]byte(txRequest.String), &req); err != nil {
				return nil, fmt.Errorf("storage.PayoutsBySettlement: tx_request payout %d: %w", p.ID, err)
			}
			p.TxRequest = &req
		}
		if p.LastRetryAt, err = scanTimePtr(lastRetryAt); err != nil {
			return nil, fmt.Errorf("storage.PayoutsBySettlement: last_retry_at: %w", err)
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// SetPayoutTxRequest persiste el request serializado ANTES de firmar, para
// que un crash a mitad de envío reenvíe lo mismo sin re-derivar gas/nonce.
func (s *SQLiteStore) SetPayoutTxRequest(ctx context.Context, payoutID int64, req *domain.TxRequest) error {
	var v any
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("storage.SetPayoutTxRequest: marshal: %w", err)
		}
		v = string(b)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET tx_request = ? WHERE id = ?`, v, payoutID,
	); err != nil {
		return fmt.Errorf("storage.SetPayoutTxRequest: %w", err)
	}
	return nil
}

// SetPayoutTxHash persiste el hash ANTES del broadcast. Con hash, el
// payout vuelve a pending: hay una transacción en vuelo que reconciliar.
func (s *SQLiteStore) SetPayoutTxHash(ctx context.Context, payoutID int64, hash string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET tx_hash = ?, status = 'pending' WHERE id = ?`, hash, payoutID,
	); err != nil {
		return fmt.Errorf("storage.SetPayoutTxHash: %w", err)
	}
	return nil
}

// MarkPayoutSent marca el payout como enviado — terminal.
func (s *SQLiteStore) MarkPayoutSent(ctx context.Context, payoutID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET status = 'sent', error = '' WHERE id = ?`, payoutID,
	); err != nil {
		return fmt.Errorf("storage.MarkPayoutSent: %w", err)
	}
	return nil
}

// MarkPayoutRetry registra un revert definitivo: limpia hash y request
// (el próximo intento deriva de cero), guarda el error y avanza el
// contador con su timestamp.
func (s *SQLiteStore) MarkPayoutRetry(ctx context.Context, payoutID int64, errMsg string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'failed', tx_hash = '', tx_request = NULL,
		    error = ?, retry_count = retry_count + 1, last_retry_at = ?
		WHERE id = ?
	`, errMsg, fmtTime(at), payoutID); err != nil {
		return fmt.Errorf("storage.MarkPayoutRetry: %w", err)
	}
	return nil
}

// MarkPayoutFailed marca el payout fallido sin tocar el contador.
func (s *SQLiteStore) MarkPayoutFailed(ctx context.Context, payoutID int64, errMsg string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET status = 'failed', error = ? WHERE id = ?`,
		errMsg, payoutID,
	); err != nil {
		return fmt.Errorf("storage.MarkPayoutFailed: %w", err)
	}
	return nil
}

// collectPredictorStats escanea y cierra el rows.
func collectPredictorStats(rows *sql.Rows) ([]domain.PredictorStats, error) {
	defer rows.Close()

	var stats []domain.PredictorStats
	for rows.Next() {
		var ps domain.PredictorStats
		if err := rows.Scan(&ps.UserID, &ps.Name, &ps.Wallet, &ps.Reputation,
			&ps.Streak, &ps.BestStreak, &ps.CorrectVotes, &ps.TotalVotes); err != nil {
			return nil, fmt.Errorf("scan predictor stats: %w", err)
		}
		stats = append(stats, ps)
	}
	return stats, rows.Err()
}
