package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// UpsertUser crea el usuario en su primera interacción o actualiza el
// display name (gana el último visto).
func (s *SQLiteStore) UpsertUser(ctx context.Context, id, name string) (domain.User, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, reputation, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, id, name, domain.ReputationStart, fmtTime(time.Now())); err != nil {
		return domain.User{}, fmt.Errorf("storage.UpsertUser: %w", err)
	}
	return s.GetUser(ctx, id)
}

// GetUser devuelve el usuario o domain.ErrNotFound.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var wallet sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, wallet, reputation, streak, best_streak, created_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Name, &wallet, &u.Reputation, &u.Streak, &u.BestStreak, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, domain.ErrNotFound
	}
	if err != nil {
		return u, fmt.Errorf("storage.GetUser: %w", err)
	}

	u.Wallet = wallet.String
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return u, fmt.Errorf("storage.GetUser: created_at: %w", err)
	}
	return u, nil
}

// RegisterWallet asocia la wallet de payout al usuario. La unicidad
// case-insensitive la garantiza el índice único sobre lower(wallet);
// una colisión se traduce a domain.ErrWalletTaken.
func (s *SQLiteStore) RegisterWallet(ctx context.Context, userID, wallet string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET wallet = ? WHERE id = ?`, wallet, userID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrWalletTaken
		}
		return fmt.Errorf("storage.RegisterWallet: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
