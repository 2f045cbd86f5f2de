package storage

// sqlite.go — fuente de verdad del bot.
//
// Estrategia:
//   - Todo invariante check-then-act vive DENTRO de una transacción:
//     "un solo trade activo", "un solo settlement incompleto" y la
//     unicidad case-insensitive de wallets se re-validan en el mismo tx
//     que muta. Los pre-checks de los engines son solo una optimización.
//   - Timestamps como RFC3339Nano en UTC — roundtrip exacto sin depender
//     del formato del driver.
//   - runtime_state es una fila singleton (id=1) creada con el schema:
//     el emergency stop y las fechas de los triggers sobreviven restarts.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS users (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    wallet      TEXT,
    reputation  REAL NOT NULL DEFAULT 0.1,
    streak      INTEGER NOT NULL DEFAULT 0,
    best_streak INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL
);

-- Unicidad case-insensitive de wallets
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_wallet
    ON users(lower(wallet)) WHERE wallet IS NOT NULL;

CREATE TABLE IF NOT EXISTS settlements (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    status       TEXT NOT NULL DEFAULT 'pending',
    triggered_at TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS trades (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    settlement_id       INTEGER REFERENCES settlements(id),
    asset               TEXT NOT NULL,
    market_id           TEXT NOT NULL DEFAULT '',
    message_ref         TEXT NOT NULL DEFAULT '',
    order_id            TEXT NOT NULL DEFAULT '',
    direction           TEXT NOT NULL DEFAULT '',
    pnl                 REAL,
    resolution_deadline TEXT NOT NULL,
    voting_ends_at      TEXT NOT NULL,
    status              TEXT NOT NULL,
    created_at          TEXT NOT NULL,
    executed_at         TEXT,
    resolved_at         TEXT
);

CREATE INDEX IF NOT EXISTS idx_trades_status     ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_settlement ON trades(settlement_id);

CREATE TABLE IF NOT EXISTS predictions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id     TEXT NOT NULL REFERENCES users(id),
    trade_id    INTEGER NOT NULL REFERENCES trades(id) ON DELETE CASCADE,
    direction   TEXT NOT NULL,
    correct     INTEGER,
    snapshot_at TEXT,
    created_at  TEXT NOT NULL,
    UNIQUE(user_id, trade_id)
);

CREATE INDEX IF NOT EXISTS idx_predictions_trade ON predictions(trade_id);

CREATE TABLE IF NOT EXISTS payouts (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id       TEXT NOT NULL REFERENCES users(id),
    settlement_id INTEGER NOT NULL REFERENCES settlements(id),
    amount_cents  INTEGER NOT NULL,
    rank          INTEGER NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    tx_hash       TEXT NOT NULL DEFAULT '',
    tx_request    TEXT,
    retry_count   INTEGER NOT NULL DEFAULT 0,
    last_retry_at TEXT,
    error         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_payouts_settlement ON payouts(settlement_id);

CREATE TABLE IF NOT EXISTS runtime_state (
    id                    INTEGER PRIMARY KEY CHECK (id = 1),
    emergency_stopped     INTEGER NOT NULL DEFAULT 0,
    last_daily_trade_date TEXT NOT NULL DEFAULT '',
    next_hourly_trade_at  TEXT,
    last_weekly_payout    TEXT NOT NULL DEFAULT ''
);

INSERT OR IGNORE INTO runtime_state (id) VALUES (1);
`

// SQLiteStore implementa ports.Store usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada y aplica
// el schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RuntimeState carga la fila singleton de scheduling.
func (s *SQLiteStore) RuntimeState(ctx context.Context) (domain.RuntimeState, error) {
	var rs domain.RuntimeState
	var stopped int
	var nextHourly sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT emergency_stopped, last_daily_trade_date, next_hourly_trade_at, last_weekly_payout
		FROM runtime_state WHERE id = 1
	`).Scan(&stopped, &rs.LastDailyTradeDate, &nextHourly, &rs.LastWeeklyPayout)
	if err != nil {
		return rs, fmt.Errorf("storage.RuntimeState: %w", err)
	}

	rs.EmergencyStopped = stopped == 1
	if nextHourly.Valid {
		t, err := parseTime(nextHourly.String)
		if err != nil {
			return rs, fmt.Errorf("storage.RuntimeState: next_hourly_trade_at: %w", err)
		}
		rs.NextHourlyTradeAt = &t
	}
	return rs, nil
}

// SetEmergencyStop persiste el freno de emergencia.
func (s *SQLiteStore) SetEmergencyStop(ctx context.Context, stopped bool) error {
	v := 0
	if stopped {
		v = 1
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE runtime_state SET emergency_stopped = ? WHERE id = 1`, v,
	); err != nil {
		return fmt.Errorf("storage.SetEmergencyStop: %w", err)
	}
	return nil
}

// SetLastDailyTradeDate registra la fecha del último trade diario.
func (s *SQLiteStore) SetLastDailyTradeDate(ctx context.Context, date string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE runtime_state SET last_daily_trade_date = ? WHERE id = 1`, date,
	); err != nil {
		return fmt.Errorf("storage.SetLastDailyTradeDate: %w", err)
	}
	return nil
}

// SetNextHourlyTradeAt registra el próximo disparo del trade aleatorio.
func (s *SQLiteStore) SetNextHourlyTradeAt(ctx context.Context, at *time.Time) error {
	var v any
	if at != nil {
		v = fmtTime(*at)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE runtime_state SET next_hourly_trade_at = ? WHERE id = 1`, v,
	); err != nil {
		return fmt.Errorf("storage.SetNextHourlyTradeAt: %w", err)
	}
	return nil
}

// SetLastWeeklyPayout registra la fecha del último settlement semanal.
func (s *SQLiteStore) SetLastWeeklyPayout(ctx context.Context, date string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE runtime_state SET last_weekly_payout = ? WHERE id = 1`, date,
	); err != nil {
		return fmt.Errorf("storage.SetLastWeeklyPayout: %w", err)
	}
	return nil
}

// --- helpers de tiempo ---

// fmtTime serializa en UTC RFC3339Nano — roundtrip exacto.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func scanTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
