package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

const tradeColumns = `
	id, settlement_id, asset, market_id, message_ref, order_id, direction,
	pnl, resolution_deadline, voting_ends_at, status, created_at, executed_at, resolved_at`

// CreateTradePending inserta un trade en voting. El tick del scheduler, un
// /propose y un retry pueden intentar crear a la vez: la transacción
// re-comprueba "sin trade activo" y "sin settlement incompleto" y solo
// entonces inserta — es el único boundary de corrección.
func (s *SQLiteStore) CreateTradePending(ctx context.Context, t domain.Trade) (domain.Trade, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return t, fmt.Errorf("storage.CreateTradePending: begin tx: %w", err)
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE status IN ('voting', 'executed')`,
	).Scan(&active); err != nil {
		return t, fmt.Errorf("storage.CreateTradePending: count active: %w", err)
	}
	if active > 0 {
		return t, domain.ErrTradeActive
	}

	var incomplete int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM settlements WHERE status IN ('pending', 'distributing')`,
	).Scan(&incomplete); err != nil {
		return t, fmt.Errorf("storage.CreateTradePending: count settlements: %w", err)
	}
	if incomplete > 0 {
		return t, domain.ErrSettlementIncomplete
	}

	t.Status = domain.TradeStatusVoting
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO trades (asset, market_id, message_ref, direction,
			resolution_deadline, voting_ends_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Asset, t.MarketID, t.MessageRef, string(t.Direction),
		fmtTime(t.ResolutionDeadline), fmtTime(t.VotingEndsAt),
		string(t.Status), fmtTime(t.CreatedAt))
	if err != nil {
		return t, fmt.Errorf("storage.CreateTradePending: insert: %w", err)
	}

	if t.ID, err = res.LastInsertId(); err != nil {
		return t, fmt.Errorf("storage.CreateTradePending: last id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return t, fmt.Errorf("storage.CreateTradePending: commit: %w", err)
	}
	return t, nil
}

// GetTrade devuelve el trade o domain.ErrNotFound.
func (s *SQLiteStore) GetTrade(ctx context.Context, id int64) (domain.Trade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return t, domain.ErrNotFound
	}
	if err != nil {
		return t, fmt.Errorf("storage.GetTrade: %w", err)
	}
	return t, nil
}

// ActiveTrade devuelve el trade en voting o executed, o nil si no hay.
func (s *SQLiteStore) ActiveTrade(ctx context.Context) (*domain.Trade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status IN ('voting', 'executed') LIMIT 1`)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.ActiveTrade: %w", err)
	}
	return &t, nil
}

// SetTradeMessageRef guarda la referencia durable del mensaje de propuesta.
func (s *SQLiteStore) SetTradeMessageRef(ctx context.Context, id int64, ref string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE trades SET message_ref = ? WHERE id = ?`, ref, id,
	); err != nil {
		return fmt.Errorf("storage.SetTradeMessageRef: %w", err)
	}
	return nil
}

// MarkTradeExecuted transiciona voting → executed con la orden colocada.
func (s *SQLiteStore) MarkTradeExecuted(ctx context.Context, id int64, orderID string, dir domain.Direction, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET status = ?, order_id = ?, direction = ?, executed_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.TradeStatusExecuted), orderID, string(dir), fmtTime(at),
		id, string(domain.TradeStatusVoting))
	if err != nil {
		return fmt.Errorf("storage.MarkTradeExecuted: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("storage.MarkTradeExecuted: trade %d not in voting", id)
	}
	return nil
}

// DeleteTrade es el camino de abort: borra el trade y sus predicciones en
// cascada. No es un estado de error — quorum fallido, ejecución fallida o
// resolución inalcanzable terminan aquí.
func (s *SQLiteStore) DeleteTrade(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trades WHERE id = ?`, id); err != nil {
		return fmt.Errorf("storage.DeleteTrade: %w", err)
	}
	return nil
}

// ResolveTrade cierra el trade en una sola transacción: marca resolved con
// su P&L, fija la corrección de cada predicción snapshotted y actualiza
// streak y reputación de cada usuario. Devuelve las predicciones ya
// marcadas para el announce.
func (s *SQLiteStore) ResolveTrade(ctx context.Context, id int64, pnl float64, outcome domain.Direction, at time.Time, reputationCap float64) ([]domain.Prediction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage.ResolveTrade: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE trades SET status = ?, pnl = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.TradeStatusResolved), pnl, fmtTime(at),
		id, string(domain.TradeStatusExecuted))
	if err != nil {
		return nil, fmt.Errorf("storage.ResolveTrade: update trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("storage.ResolveTrade: trade %d not in executed", id)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE predictions
		SET correct = CASE WHEN direction = ? THEN 1 ELSE 0 END
		WHERE trade_id = ? AND snapshot_at IS NOT NULL
	`, string(outcome), id); err != nil {
		return nil, fmt.Errorf("storage.ResolveTrade: mark correctness: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, trade_id, direction, correct, snapshot_at, created_at
		FROM predictions WHERE trade_id = ? AND snapshot_at IS NOT NULL
	`, id)
	if err != nil {
		return nil, fmt.Errorf("storage.ResolveTrade: load predictions: %w", err)
	}
	preds, err := collectPredictions(rows)
	if err != nil {
		return nil, fmt.Errorf("storage.ResolveTrade: %w", err)
	}

	for _, p := range preds {
		correct := p.Correct != nil && *p.Correct

		var streak, best int
		var rep float64
		if err := tx.QueryRowContext(ctx,
			`SELECT streak, best_streak, reputation FROM users WHERE id = ?`, p.UserID,
		).Scan(&streak, &best, &rep); err != nil {
			return nil, fmt.Errorf("storage.ResolveTrade: load user %s: %w", p.UserID, err)
		}

		streak, best = domain.ApplyStreak(streak, best, correct)
		if correct {
			rep = domain.AdvanceReputation(rep, reputationCap)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET streak = ?, best_streak = ?, reputation = ? WHERE id = ?`,
			streak, best, rep, p.UserID,
		); err != nil {
			return nil, fmt.Errorf("storage.ResolveTrade: update user %s: %w", p.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storage.ResolveTrade: commit: %w", err)
	}
	return preds, nil
}

// VotingTradesDue devuelve los trades en voting cuya ventana ya cerró.
func (s *SQLiteStore) VotingTradesDue(ctx context.Context, now time.Time) ([]domain.Trade, error) {
	return s.queryTrades(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status = 'voting' AND voting_ends_at <= ?
		ORDER BY id
	`, fmtTime(now))
}

// ExecutedTradesDue devuelve los trades ejecutados que ya pasaron su
// deadline de resolución.
func (s *SQLiteStore) ExecutedTradesDue(ctx context.Context, now time.Time) ([]domain.Trade, error) {
	return s.queryTrades(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status = 'executed' AND resolution_deadline <= ?
		ORDER BY id
	`, fmtTime(now))
}

// LastResolvedAt devuelve el timestamp del último trade resuelto, o nil.
func (s *SQLiteStore) LastResolvedAt(ctx context.Context) (*time.Time, error) {
	var resolved sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(resolved_at) FROM trades WHERE status = 'resolved'`,
	).Scan(&resolved)
	if err != nil {
		return nil, fmt.Errorf("storage.LastResolvedAt: %w", err)
	}
	t, err := scanTimePtr(resolved)
	if err != nil {
		return nil, fmt.Errorf("storage.LastResolvedAt: %w", err)
	}
	return t, nil
}

// TradeHistory devuelve los últimos trades resueltos, los más recientes
// primero.
func (s *SQLiteStore) TradeHistory(ctx context.Context, limit int) ([]domain.Trade, error) {
	return s.queryTrades(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status = 'resolved'
		ORDER BY resolved_at DESC LIMIT ?
	`, limit)
}

// --- helpers ---

func (s *SQLiteStore) queryTrades(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryTrades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.queryTrades: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (domain.Trade, error) {
	var t domain.Trade
	var settlementID sql.NullInt64
	var pnl sql.NullFloat64
	var direction, resolutionDeadline, votingEndsAt, createdAt string
	var executedAt, resolvedAt sql.NullString

	err := row.Scan(&t.ID, &settlementID, &t.Asset, &t.MarketID, &t.MessageRef,
		&t.OrderID, &direction, &pnl, &resolutionDeadline, &votingEndsAt,
		(*string)(&t.Status), &createdAt, &executedAt, &resolvedAt)
	if err != nil {
		return t, err
	}

	if settlementID.Valid {
		t.SettlementID = &settlementID.Int64
	}
	if pnl.Valid {
		t.PnL = &pnl.Float64
	}
	t.Direction = domain.Direction(direction)

	if t.ResolutionDeadline, err = parseTime(resolutionDeadline); err != nil {
		return t, fmt.Errorf("resolution_deadline: %w", err)
	}
	if t.VotingEndsAt, err = parseTime(votingEndsAt); err != nil {
		return t, fmt.Errorf("voting_ends_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, fmt.Errorf("created_at: %w", err)
	}
	if t.ExecutedAt, err = scanTimePtr(executedAt); err != nil {
		return t, fmt.Errorf("executed_at: %w", err)
	}
	if t.ResolvedAt, err = scanTimePtr(resolvedAt); err != nil {
		return t, fmt.Errorf("resolved_at: %w", err)
	}
	return t, nil
}
