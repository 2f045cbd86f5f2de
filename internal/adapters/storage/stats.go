package storage

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// Leaderboard agrega la precisión global sobre todos los trades resueltos
// (reclamados o no), con el mismo orden canónico que el ranking de
// ganadores. Incluye usuarios sin wallet — el leaderboard es informativo,
// no un reparto.
func (s *SQLiteStore) Leaderboard(ctx context.Context, limit int) ([]domain.PredictorStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, COALESCE(u.wallet, ''), u.reputation, u.streak, u.best_streak,
		       SUM(CASE WHEN p.correct = 1 THEN 1 ELSE 0 END) AS correct_votes,
		       COUNT(p.id) AS total_votes
		FROM predictions p
		JOIN users u ON u.id = p.user_id
		JOIN trades t ON t.id = p.trade_id
		WHERE t.status = 'resolved' AND p.snapshot_at IS NOT NULL
		GROUP BY u.id
		ORDER BY correct_votes DESC, u.reputation DESC, total_votes DESC, u.id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Leaderboard: %w", err)
	}
	stats, err := collectPredictorStats(rows)
	if err != nil {
		return nil, fmt.Errorf("storage.Leaderboard: %w", err)
	}
	return stats, nil
}
