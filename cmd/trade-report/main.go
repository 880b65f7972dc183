// The trade-report command summarizes the bot's trade log on the console and
// exports it as an Excel workbook.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/xuri/excelize/v2"

	"github.com/quantavn/ai-futures-bot/internal/config"
	"github.com/quantavn/ai-futures-bot/internal/logger"
	"github.com/quantavn/ai-futures-bot/internal/tradelog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	outPath := flag.String("out", "trade_report.xlsx", "xlsx output path, empty to skip export")
	flag.Parse()

	if err := run(*configPath, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, outPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reader, closeFn, err := openReader(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	trades, err := reader.ReadTrades()
	if err != nil {
		return err
	}
	equity, err := reader.ReadEquity()
	if err != nil {
		return err
	}

	printSummary(trades, equity)

	if outPath != "" {
		if err := exportWorkbook(outPath, trades, equity); err != nil {
			return err
		}
		fmt.Printf("\nWorkbook written to %s\n", outPath)
	}
	return nil
}

func openReader(cfg *config.Config) (tradelog.Reader, func(), error) {
	log := logger.NewNop()
	switch cfg.TradeLog.Backend {
	case "sqlite":
		s, err := tradelog.NewSQLite(cfg.TradeLog.DBPath, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "jsonl":
		j, err := tradelog.NewJSONL(cfg.TradeLog.Path, log)
		if err != nil {
			return nil, nil, err
		}
		return j, func() { j.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown trade log backend %q", cfg.TradeLog.Backend)
}

type summary struct {
	completed   int
	wins        int
	totalPnL    float64
	bestPnL     float64
	worstPnL    float64
	maxDrawdown float64
}

func summarize(trades []tradelog.Trade, equity []tradelog.EquityPoint) summary {
	var s summary
	for _, t := range trades {
		if t.Action != tradelog.ActionExit {
			continue
		}
		s.completed++
		s.totalPnL += t.PnL
		if t.PnL >= 0 {
			s.wins++
		}
		if t.PnL > s.bestPnL {
			s.bestPnL = t.PnL
		}
		if t.PnL < s.worstPnL {
			s.worstPnL = t.PnL
		}
	}

	peak := 0.0
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > s.maxDrawdown {
				s.maxDrawdown = dd
			}
		}
	}
	return s
}

func printSummary(trades []tradelog.Trade, equity []tradelog.EquityPoint) {
	s := summarize(trades, equity)

	winRate := 0.0
	if s.completed > 0 {
		winRate = float64(s.wins) / float64(s.completed) * 100
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Trade Summary")
	t.AppendRows([]table.Row{
		{"Completed trades", s.completed},
		{"Win rate", fmt.Sprintf("%.1f%%", winRate)},
		{"Total PnL", fmt.Sprintf("%.2f", s.totalPnL)},
		{"Best trade", fmt.Sprintf("%.2f", s.bestPnL)},
		{"Worst trade", fmt.Sprintf("%.2f", s.worstPnL)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", s.maxDrawdown*100)},
		{"Equity snapshots", len(equity)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	t.Render()
}

func exportWorkbook(path string, trades []tradelog.Trade, equity []tradelog.EquityPoint) error {
	f := excelize.NewFile()
	defer f.Close()

	const tradesSheet = "Trades"
	if err := f.SetSheetName("Sheet1", tradesSheet); err != nil {
		return err
	}

	headers := []string{"Timestamp", "Symbol", "Direction", "Action", "Price", "Size", "PnL", "Confidence"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(tradesSheet, cell, h); err != nil {
			return err
		}
	}
	for row, t := range trades {
		values := []interface{}{
			t.Timestamp.Format(time.RFC3339), t.Symbol, t.Direction, t.Action,
			t.Price, t.Size, t.PnL, t.Confidence,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(tradesSheet, cell, v); err != nil {
				return err
			}
		}
	}

	const equitySheet = "Equity"
	if _, err := f.NewSheet(equitySheet); err != nil {
		return err
	}
	for col, h := range []string{"Timestamp", "Equity", "Daily PnL"} {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(equitySheet, cell, h); err != nil {
			return err
		}
	}
	for row, p := range equity {
		values := []interface{}{p.Timestamp.Format(time.RFC3339), p.Equity, p.DailyPnL}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(equitySheet, cell, v); err != nil {
				return err
			}
		}
	}

	return f.SaveAs(path)
}
