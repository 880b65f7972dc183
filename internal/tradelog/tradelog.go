// Package tradelog persists the bot's trade and equity history. Writes are
// append-only and never surface errors into the trading path; failures are
// logged and dropped. Two backends exist: JSON lines (default) and SQLite.
package tradelog

import "time"

// Trade is one entry or exit record.
type Trade struct {
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"` // LONG or SHORT
	Action     string    `json:"action"`    // ENTRY or EXIT
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	PnL        float64   `json:"pnl"`
	Confidence float64   `json:"confidence"`
}

// EquityPoint is one per-cycle equity snapshot.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
	DailyPnL  float64   `json:"daily_pnl"`
}

const (
	ActionEntry = "ENTRY"
	ActionExit  = "EXIT"
)

// Store is the trade log contract the controller consumes. Implementations
// swallow their own write errors.
type Store interface {
	LogEntry(t Trade)
	LogExit(t Trade)
	LogEquity(p EquityPoint)
	Close() error
}

// Reader is the query side used by the trade-report tool.
type Reader interface {
	ReadTrades() ([]Trade, error)
	ReadEquity() ([]EquityPoint, error)
}
