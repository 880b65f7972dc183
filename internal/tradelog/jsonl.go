package tradelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantavn/ai-futures-bot/internal/logger"
)

// record is the on-disk line format, tagged so trades and equity snapshots
// share one file.
type record struct {
	Type   string       `json:"type"` // "trade" or "equity"
	Trade  *Trade       `json:"trade,omitempty"`
	Equity *EquityPoint `json:"equity,omitempty"`
}

// JSONL appends records as JSON lines to a single file.
type JSONL struct {
	path string
	file *os.File
	log  *logger.Logger
}

// NewJSONL opens (or creates) the log file for appending.
func NewJSONL(path string, log *logger.Logger) (*JSONL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create trade log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade log %s: %w", path, err)
	}
	return &JSONL{path: path, file: f, log: log.Named("tradelog")}, nil
}

func (j *JSONL) LogEntry(t Trade) {
	t.Action = ActionEntry
	j.write(record{Type: "trade", Trade: &t})
}

func (j *JSONL) LogExit(t Trade) {
	t.Action = ActionExit
	j.write(record{Type: "trade", Trade: &t})
}

func (j *JSONL) LogEquity(p EquityPoint) {
	j.write(record{Type: "equity", Equity: &p})
}

func (j *JSONL) write(r record) {
	line, err := json.Marshal(r)
	if err != nil {
		j.log.Errorf("trade log marshal failed: %v", err)
		return
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		j.log.Errorf("trade log write failed: %v", err)
	}
}

// ReadTrades returns all trade records in file order.
func (j *JSONL) ReadTrades() ([]Trade, error) {
	records, err := readRecords(j.path)
	if err != nil {
		return nil, err
	}
	var trades []Trade
	for _, r := range records {
		if r.Type == "trade" && r.Trade != nil {
			trades = append(trades, *r.Trade)
		}
	}
	return trades, nil
}

// ReadEquity returns all equity snapshots in file order.
func (j *JSONL) ReadEquity() ([]EquityPoint, error) {
	records, err := readRecords(j.path)
	if err != nil {
		return nil, err
	}
	var points []EquityPoint
	for _, r := range records {
		if r.Type == "equity" && r.Equity != nil {
			points = append(points, *r.Equity)
		}
	}
	return points, nil
}

// Close flushes and closes the underlying file.
func (j *JSONL) Close() error {
	return j.file.Close()
}

func readRecords(path string) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade log %s: %w", path, err)
	}
	defer f.Close()

	var records []record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			// Skip torn lines from a crashed writer.
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trade log %s: %w", path, err)
	}
	return records, nil
}
