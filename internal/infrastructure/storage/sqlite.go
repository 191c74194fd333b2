package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/subcent_bot/internal/domain"
)

// SessionStore keeps one row per bot run so session performance can be
// queried across restarts.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(dbPath string) (*SessionStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SessionStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SessionStore) initSchema() error {
	query := `CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		total_trades INTEGER NOT NULL,
		buy_trades INTEGER NOT NULL,
		sell_trades INTEGER NOT NULL,
		total_volume REAL NOT NULL,
		total_profit_loss REAL NOT NULL,
		winning_trades INTEGER NOT NULL,
		losing_trades INTEGER NOT NULL,
		errors_encountered INTEGER NOT NULL,
		orders_placed INTEGER NOT NULL,
		orders_filled INTEGER NOT NULL,
		total_fees REAL NOT NULL,
		win_rate REAL NOT NULL,
		pairs_traded TEXT NOT NULL,
		shutdown_reason TEXT NOT NULL,
		trades_per_exchange TEXT NOT NULL,
		profit_per_exchange TEXT NOT NULL
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to init sessions schema: %w", err)
	}
	return nil
}

func (s *SessionStore) SaveSession(ctx context.Context, snap *domain.SessionSnapshot) error {
	pairs, err := json.Marshal(snap.PairsTraded)
	if err != nil {
		return err
	}
	trades, err := json.Marshal(snap.TradesPerExchange)
	if err != nil {
		return err
	}
	profit, err := json.Marshal(snap.ProfitPerExchange)
	if err != nil {
		return err
	}

	query := `INSERT INTO sessions (
		start_time, end_time, total_trades, buy_trades, sell_trades,
		total_volume, total_profit_loss, winning_trades, losing_trades,
		errors_encountered, orders_placed, orders_filled, total_fees,
		win_rate, pairs_traded, shutdown_reason, trades_per_exchange, profit_per_exchange)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		snap.StartTime, snap.EndTime, snap.TotalTrades, snap.BuyTrades, snap.SellTrades,
		snap.TotalVolume, snap.TotalProfitLoss, snap.WinningTrades, snap.LosingTrades,
		snap.ErrorsEncountered, snap.OrdersPlaced, snap.OrdersFilled, snap.TotalFees,
		snap.WinRate, string(pairs), snap.ShutdownReason, string(trades), string(profit))
	return err
}

func (s *SessionStore) ListSessions(ctx context.Context, limit int) ([]*domain.SessionSnapshot, error) {
	query := `SELECT start_time, end_time, total_trades, buy_trades, sell_trades,
		total_volume, total_profit_loss, winning_trades, losing_trades,
		errors_encountered, orders_placed, orders_filled, total_fees,
		win_rate, pairs_traded, shutdown_reason, trades_per_exchange, profit_per_exchange
		FROM sessions ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.SessionSnapshot
	for rows.Next() {
		var snap domain.SessionSnapshot
		var pairs, trades, profit string
		if err := rows.Scan(&snap.StartTime, &snap.EndTime, &snap.TotalTrades, &snap.BuyTrades,
			&snap.SellTrades, &snap.TotalVolume, &snap.TotalProfitLoss, &snap.WinningTrades,
			&snap.LosingTrades, &snap.ErrorsEncountered, &snap.OrdersPlaced, &snap.OrdersFilled,
			&snap.TotalFees, &snap.WinRate, &pairs, &snap.ShutdownReason, &trades, &profit); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(pairs), &snap.PairsTraded); err != nil {
			snap.PairsTraded = nil
		}
		if err := json.Unmarshal([]byte(trades), &snap.TradesPerExchange); err != nil {
			snap.TradesPerExchange = nil
		}
		if err := json.Unmarshal([]byte(profit), &snap.ProfitPerExchange); err != nil {
			snap.ProfitPerExchange = nil
		}
		sessions = append(sessions, &snap)
	}
	return sessions, rows.Err()
}

func (s *SessionStore) Close() error { return s.db.Close() }
