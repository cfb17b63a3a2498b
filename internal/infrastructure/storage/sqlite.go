package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
)

// SQLiteStore keeps one row per strategy instance. The full record is stored as JSON
// so each save replaces the instance state in a single statement.
type SQLiteStore struct {
	db *sqlx.DB
}

type instanceRow struct {
	ID         string    `db:"id"`
	Exchange   string    `db:"exchange"`
	Symbol     string    `db:"symbol"`
	MarketType string    `db:"market_type"`
	Status     string    `db:"status"`
	State      string    `db:"state"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS strategy_instances (
			id TEXT PRIMARY KEY,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			market_type TEXT NOT NULL,
			status TEXT NOT NULL,
			state TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_instances_triple ON strategy_instances(exchange, symbol, market_type);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveInstance(ctx context.Context, rec *domain.InstanceRecord) error {
	state, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode instance %s: %w", rec.ID, err)
	}
	row := instanceRow{
		ID:         rec.ID,
		Exchange:   rec.Config.Exchange,
		Symbol:     rec.Config.Symbol,
		MarketType: string(rec.Config.MarketType),
		Status:     string(rec.Status),
		State:      string(state),
		UpdatedAt:  time.Now().UTC(),
	}
	query := `INSERT INTO strategy_instances (id, exchange, symbol, market_type, status, state, updated_at)
		VALUES (:id, :exchange, :symbol, :market_type, :status, :state, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			exchange = excluded.exchange,
			symbol = excluded.symbol,
			market_type = excluded.market_type,
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at`
	_, err = s.db.NamedExecContext(ctx, query, row)
	return err
}

func (s *SQLiteStore) DeleteInstance(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM strategy_instances WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) ListInstances(ctx context.Context) ([]*domain.InstanceRecord, error) {
	var rows []instanceRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM strategy_instances ORDER BY updated_at`); err != nil {
		return nil, err
	}

	out := make([]*domain.InstanceRecord, 0, len(rows))
	for _, row := range rows {
		var rec domain.InstanceRecord
		if err := json.Unmarshal([]byte(row.State), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode instance %s: %w", row.ID, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
