package tradelog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quantavn/ai-futures-bot/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	action TEXT NOT NULL,
	price REAL NOT NULL,
	size REAL NOT NULL,
	pnl REAL NOT NULL,
	confidence REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS equity (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	equity REAL NOT NULL,
	daily_pnl REAL NOT NULL
);
`

// SQLite stores the trade log in an embedded database.
type SQLite struct {
	db  *sql.DB
	log *logger.Logger
}

// NewSQLite opens (or creates) the database and ensures the schema exists.
func NewSQLite(path string, log *logger.Logger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create trade db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create trade db schema: %w", err)
	}
	return &SQLite{db: db, log: log.Named("tradelog")}, nil
}

func (s *SQLite) LogEntry(t Trade) {
	t.Action = ActionEntry
	s.insertTrade(t)
}

func (s *SQLite) LogExit(t Trade) {
	t.Action = ActionExit
	s.insertTrade(t)
}

func (s *SQLite) insertTrade(t Trade) {
	_, err := s.db.Exec(
		`INSERT INTO trades (timestamp, symbol, direction, action, price, size, pnl, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Timestamp.UTC().Format(time.RFC3339Nano),
		t.Symbol, t.Direction, t.Action, t.Price, t.Size, t.PnL, t.Confidence,
	)
	if err != nil {
		s.log.Errorf("trade insert failed: %v", err)
	}
}

func (s *SQLite) LogEquity(p EquityPoint) {
	_, err := s.db.Exec(
		`INSERT INTO equity (timestamp, equity, daily_pnl) VALUES (?, ?, ?)`,
		p.Timestamp.UTC().Format(time.RFC3339Nano), p.Equity, p.DailyPnL,
	)
	if err != nil {
		s.log.Errorf("equity insert failed: %v", err)
	}
}

// ReadTrades returns all trades in insertion order.
func (s *SQLite) ReadTrades() ([]Trade, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, symbol, direction, action, price, size, pnl, confidence
		 FROM trades ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var ts string
		if err := rows.Scan(&ts, &t.Symbol, &t.Direction, &t.Action,
			&t.Price, &t.Size, &t.PnL, &t.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ReadEquity returns all equity snapshots in insertion order.
func (s *SQLite) ReadEquity() ([]EquityPoint, error) {
	rows, err := s.db.Query(`SELECT timestamp, equity, daily_pnl FROM equity ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity: %w", err)
	}
	defer rows.Close()

	var points []EquityPoint
	for rows.Next() {
		var p EquityPoint
		var ts string
		if err := rows.Scan(&ts, &p.Equity, &p.DailyPnL); err != nil {
			return nil, fmt.Errorf("failed to scan equity row: %w", err)
		}
		p.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		points = append(points, p)
	}
	return points, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
