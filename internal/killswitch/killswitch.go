// Package killswitch implements the out-of-band emergency halt mechanism.
// The marker's existence is the sole source of truth for halt state; the bot
// observes it between cycles and the killswitch CLI writes it from outside
// the bot process.
package killswitch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/quantavn/ai-futures-bot/internal/logger"
)

// Mode is the halt severity.
type Mode string

const (
	// ModeImmediate halts by marker plus best-effort termination of running
	// bot processes.
	ModeImmediate Mode = "immediate"
	// ModeGraceful blocks new entries; the bot closes its position and stops
	// once it observes the marker.
	ModeGraceful Mode = "graceful"
	// ModePause blocks new entries only; exits remain allowed and the bot
	// keeps running.
	ModePause Mode = "pause"
)

// ParseMode validates a mode string from the CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeImmediate, ModeGraceful, ModePause:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown kill switch mode %q (want immediate, graceful or pause)", s)
}

// Marker is the halt record shared between the CLI and the bot.
type Marker struct {
	Mode        Mode      `json:"mode"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
	ActivatedBy string    `json:"activated_by"`
}

// MarkerStore is the durable command channel carrying the halt marker across
// process boundaries. Implementations must make Write atomic so the bot
// never reads a half-written marker.
type MarkerStore interface {
	// Write stores the marker, replacing any existing one.
	Write(ctx context.Context, m Marker) error
	// Read returns the current marker, or ok=false when none is set.
	Read(ctx context.Context) (m Marker, ok bool, err error)
	// Clear removes the marker. Removing an absent marker is not an error;
	// existed reports whether one was present.
	Clear(ctx context.Context) (existed bool, err error)
}

// KillSwitch coordinates marker writes with the append-only audit trail.
type KillSwitch struct {
	store       MarkerStore
	auditPath   string
	log         *logger.Logger
	now         func() time.Time
	procPattern string // process name match for immediate mode
}

// New creates a kill switch over the given marker store. auditPath may be
// empty to disable the audit trail (tests).
func New(store MarkerStore, auditPath string, log *logger.Logger) *KillSwitch {
	return &KillSwitch{
		store:       store,
		auditPath:   auditPath,
		log:         log.Named("killswitch"),
		now:         time.Now,
		procPattern: "ai-futures-bot",
	}
}

// Activate writes an audit entry, performs the mode-specific action and sets
// the marker.
func (k *KillSwitch) Activate(ctx context.Context, mode Mode, reason, activatedBy string) error {
	if reason == "" {
		return fmt.Errorf("kill switch activation requires a reason")
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}

	k.audit("activate", mode, reason, activatedBy)

	if mode == ModeImmediate {
		k.terminateBotProcesses()
	}

	marker := Marker{
		Mode:        mode,
		Reason:      reason,
		Timestamp:   k.now().UTC(),
		ActivatedBy: activatedBy,
	}
	if err := k.store.Write(ctx, marker); err != nil {
		return fmt.Errorf("failed to write kill switch marker: %w", err)
	}
	k.log.Warnf("kill switch activated: mode=%s reason=%q by=%s", mode, reason, activatedBy)
	return nil
}

// Clear removes the marker. Clearing an absent marker is a successful no-op.
func (k *KillSwitch) Clear(ctx context.Context, clearedBy string) error {
	existed, err := k.store.Clear(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear kill switch marker: %w", err)
	}
	k.audit("clear", "", "", clearedBy)
	if existed {
		k.log.Infof("kill switch cleared by %s", clearedBy)
	} else {
		k.log.Infof("kill switch clear requested by %s but no marker was set", clearedBy)
	}
	return nil
}

// Status returns the active marker, or ok=false when trading is permitted.
func (k *KillSwitch) Status(ctx context.Context) (Marker, bool, error) {
	return k.store.Read(ctx)
}

// audit appends one JSON line to the audit trail. Audit failures are logged,
// never propagated; losing an audit line must not block a halt.
func (k *KillSwitch) audit(action string, mode Mode, reason, actor string) {
	if k.auditPath == "" {
		return
	}
	entry := struct {
		Timestamp time.Time `json:"timestamp"`
		Action    string    `json:"action"`
		Mode      Mode      `json:"mode,omitempty"`
		Reason    string    `json:"reason,omitempty"`
		Actor     string    `json:"actor,omitempty"`
	}{k.now().UTC(), action, mode, reason, actor}

	line, err := json.Marshal(entry)
	if err != nil {
		k.log.Errorf("audit entry marshal failed: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(k.auditPath), 0o755); err != nil {
		k.log.Errorf("audit directory create failed: %v", err)
		return
	}
	f, err := os.OpenFile(k.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		k.log.Errorf("audit file open failed: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		k.log.Errorf("audit write failed: %v", err)
	}
}

// terminateBotProcesses best-effort kills running bot processes by name
// match. Failures are logged only; the marker write still proceeds.
func (k *KillSwitch) terminateBotProcesses() {
	out, err := exec.Command("pkill", "-f", k.procPattern).CombinedOutput()
	if err != nil {
		// pkill exits 1 when nothing matched, which is fine here.
		k.log.Warnf("process termination attempt: %v (%s)", err, string(out))
		return
	}
	k.log.Warnf("terminated running bot processes matching %q", k.procPattern)
}
