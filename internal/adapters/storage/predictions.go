package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// RecordVote registra o actualiza el voto vivo de un usuario. Una vez
// snapshotted, el voto es inmutable — el upsert solo toca filas sin
// snapshot_at.
func (s *SQLiteStore) RecordVote(ctx context.Context, tradeID int64, userID string, dir domain.Direction) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO predictions (user_id, trade_id, direction, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, trade_id) DO UPDATE SET direction = excluded.direction
		WHERE predictions.snapshot_at IS NULL
	`, userID, tradeID, string(dir), fmtTime(time.Now())); err != nil {
		return fmt.Errorf("storage.RecordVote: %w", err)
	}
	return nil
}

// LiveVoterIDs devuelve los user IDs con voto vivo (sin snapshot) en el
// trade — la entrada del filtro de elegibilidad al cierre.
func (s *SQLiteStore) LiveVoterIDs(ctx context.Context, tradeID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM predictions WHERE trade_id = ? AND snapshot_at IS NULL`,
		tradeID)
	if err != nil {
		return nil, fmt.Errorf("storage.LiveVoterIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage.LiveVoterIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SnapshotPredictions congela los votos de los usuarios elegibles con un
// timestamp compartido y purga los no elegibles, en una transacción.
// Devuelve el recuento congelado — la entrada del tally.
func (s *SQLiteStore) SnapshotPredictions(ctx context.Context, tradeID int64, eligible []string, at time.Time) (domain.VoteCounts, error) {
	var counts domain.VoteCounts

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("storage.SnapshotPredictions: begin tx: %w", err)
	}
	defer tx.Rollback()

	if len(eligible) > 0 {
		placeholders := strings.Repeat("?,", len(eligible)-1) + "?"
		args := make([]any, 0, len(eligible)+2)
		args = append(args, fmtTime(at), tradeID)
		for _, id := range eligible {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE predictions SET snapshot_at = ?
			WHERE trade_id = ? AND snapshot_at IS NULL AND user_id IN (`+placeholders+`)
		`, args...); err != nil {
			return counts, fmt.Errorf("storage.SnapshotPredictions: freeze: %w", err)
		}
	}

	// Purga de restos no snapshotted — no elegibles o votos tardíos
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM predictions WHERE trade_id = ? AND snapshot_at IS NULL`, tradeID,
	); err != nil {
		return counts, fmt.Errorf("storage.SnapshotPredictions: purge: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'UP' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'DOWN' THEN 1 ELSE 0 END), 0)
		FROM predictions WHERE trade_id = ? AND snapshot_at IS NOT NULL
	`, tradeID).Scan(&counts.Up, &counts.Down); err != nil {
		return counts, fmt.Errorf("storage.SnapshotPredictions: count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return counts, fmt.Errorf("storage.SnapshotPredictions: commit: %w", err)
	}
	return counts, nil
}

// VoteCounts devuelve el recuento de votos del trade, vivo o snapshotted.
func (s *SQLiteStore) VoteCounts(ctx context.Context, tradeID int64, snapshottedOnly bool) (domain.VoteCounts, error) {
	var counts domain.VoteCounts
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'UP' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'DOWN' THEN 1 ELSE 0 END), 0)
		FROM predictions WHERE trade_id = ?`
	if snapshottedOnly {
		query += ` AND snapshot_at IS NOT NULL`
	}
	if err := s.db.QueryRowContext(ctx, query, tradeID).Scan(&counts.Up, &counts.Down); err != nil {
		return counts, fmt.Errorf("storage.VoteCounts: %w", err)
	}
	return counts, nil
}

// SnapshottedPredictions devuelve las predicciones congeladas de un trade.
func (s *SQLiteStore) SnapshottedPredictions(ctx context.Context, tradeID int64) ([]domain.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, trade_id, direction, correct, snapshot_at, created_at
		FROM predictions WHERE trade_id = ? AND snapshot_at IS NOT NULL
	`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("storage.SnapshottedPredictions: %w", err)
	}
	preds, err := collectPredictions(rows)
	if err != nil {
		return nil, fmt.Errorf("storage.SnapshottedPredictions: %w", err)
	}
	return preds, nil
}

// collectPredictions escanea y cierra el rows.
func collectPredictions(rows *sql.Rows) ([]domain.Prediction, error) {
	defer rows.Close()

	var preds []domain.Prediction
	for rows.Next() {
		var p domain.Prediction
		var direction, createdAt string
		var correct sql.NullInt64
		var snapshotAt sql.NullString

		if err := rows.Scan(&p.ID, &p.UserID, &p.TradeID, &direction,
			&correct, &snapshotAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}

		p.Direction = domain.Direction(direction)
		if correct.Valid {
			v := correct.Int64 == 1
			p.Correct = &v
		}
		var err error
		if p.SnapshotAt, err = scanTimePtr(snapshotAt); err != nil {
			return nil, fmt.Errorf("snapshot_at: %w", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("created_at: %w", err)
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}
