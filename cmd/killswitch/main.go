// The killswitch command controls the emergency halt marker from outside the
// bot process.
//
// Usage:
//
//	killswitch --mode graceful --reason "bad fills" [--activated-by ops]
//	killswitch --mode immediate --reason "runaway" --confirm
//	killswitch --clear
//	killswitch --status
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"

	"github.com/quantavn/ai-futures-bot/internal/config"
	"github.com/quantavn/ai-futures-bot/internal/killswitch"
	"github.com/quantavn/ai-futures-bot/internal/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	mode := flag.String("mode", "", "activation mode: immediate, graceful or pause")
	reason := flag.String("reason", "", "why the switch is being thrown (required for activation)")
	activatedBy := flag.String("activated-by", defaultActor(), "who is acting")
	clear := flag.Bool("clear", false, "clear the marker and re-enable trading")
	status := flag.Bool("status", false, "report the current halt state")
	confirm := flag.Bool("confirm", false, "skip the interactive confirmation for immediate mode")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(*configPath, *mode, *reason, *activatedBy, *clear, *status, *confirm); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, mode, reason, activatedBy string, clear, status, confirm bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, "")
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	ks := killswitch.New(store, cfg.KillSwitch.AuditLog, log)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch {
	case status:
		return printStatus(ctx, ks)
	case clear:
		return ks.Clear(ctx, activatedBy)
	case mode != "":
		parsed, err := killswitch.ParseMode(mode)
		if err != nil {
			return err
		}
		if reason == "" {
			return fmt.Errorf("--reason is required for activation")
		}
		if parsed == killswitch.ModeImmediate && !confirm {
			if !promptConfirmation() {
				return fmt.Errorf("immediate activation aborted")
			}
		}
		return ks.Activate(ctx, parsed, reason, activatedBy)
	}
	return fmt.Errorf("nothing to do: pass --mode, --clear or --status")
}

// loadConfig reads the bot config when present so the CLI and the bot agree
// on the marker location; otherwise the defaults apply.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Load("")
	}
	return config.Load(path)
}

func buildStore(cfg *config.Config) (killswitch.MarkerStore, error) {
	switch cfg.KillSwitch.Store {
	case "redis":
		return killswitch.NewRedisStore(cfg.KillSwitch.RedisAddr, cfg.KillSwitch.RedisKey), nil
	case "file":
		return killswitch.NewFileStore(cfg.KillSwitch.MarkerPath), nil
	}
	return nil, fmt.Errorf("unknown kill switch store %q", cfg.KillSwitch.Store)
}

func printStatus(ctx context.Context, ks *killswitch.KillSwitch) error {
	marker, active, err := ks.Status(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Field", "Value"})
	if !active {
		t.AppendRow(table.Row{"State", "INACTIVE"})
		t.AppendRow(table.Row{"Trading", "permitted"})
	} else {
		t.AppendRows([]table.Row{
			{"State", "ACTIVE"},
			{"Mode", marker.Mode},
			{"Reason", marker.Reason},
			{"Since", marker.Timestamp.Format(time.RFC3339)},
			{"Activated by", marker.ActivatedBy},
		})
	}
	t.Render()
	return nil
}

func promptConfirmation() bool {
	fmt.Print("Immediate mode terminates running bot processes. Type 'yes' to proceed: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	return strings.TrimSpace(scanner.Text()) == "yes"
}

func defaultActor() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}
