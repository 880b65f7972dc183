// Package policy maps the controller's state vector to a trading action.
// Like the predictor, it has a loaded-weights variant and a rule-based
// stand-in, selected at construction.
package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/quantavn/ai-futures-bot/internal/bot/state"
)

// Action is the discrete decision the policy emits.
type Action int

const (
	ActionHold Action = iota
	ActionEnterLong
	ActionEnterShort
	ActionExit
	ActionScaleIn  // recognized but not implemented by the controller
	ActionScaleOut // recognized but not implemented by the controller
)

func (a Action) String() string {
	switch a {
	case ActionHold:
		return "HOLD"
	case ActionEnterLong:
		return "ENTER_LONG"
	case ActionEnterShort:
		return "ENTER_SHORT"
	case ActionExit:
		return "EXIT"
	case ActionScaleIn:
		return "SCALE_IN"
	case ActionScaleOut:
		return "SCALE_OUT"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(a))
}

// Policy is the decision contract the controller consumes. The input is the
// fixed-order state vector built by the controller.
type Policy interface {
	Decide(stateVec []float64) (Action, error)
}

// RulePolicy is the deterministic stand-in: enter in the signal's direction
// on a confident forecast when flat, exit an open position once confidence
// decays, otherwise hold.
type RulePolicy struct {
	entryConfidence float64
	exitConfidence  float64
}

// NewRulePolicy creates the rule-based policy with the default thresholds.
func NewRulePolicy() *RulePolicy {
	return &RulePolicy{entryConfidence: 0.6, exitConfidence: 0.4}
}

// Decide applies the confidence rules to the state vector.
func (p *RulePolicy) Decide(stateVec []float64) (Action, error) {
	if len(stateVec) != state.VectorSize {
		return ActionHold, fmt.Errorf("state vector has %d elements, want %d",
			len(stateVec), state.VectorSize)
	}

	position := stateVec[state.IdxPosition]
	signal := stateVec[state.IdxSignal] // centered: -1 short, 0 neutral, +1 long
	confidence := stateVec[state.IdxConfidence]

	if position == 0 {
		if confidence >= p.entryConfidence {
			if signal > 0 {
				return ActionEnterLong, nil
			}
			if signal < 0 {
				return ActionEnterShort, nil
			}
		}
		return ActionHold, nil
	}

	if confidence < p.exitConfidence {
		return ActionExit, nil
	}
	return ActionHold, nil
}

// weightsFile is the serialized linear policy: one score row per action.
type weightsFile struct {
	Weights [][]float64 `json:"weights"` // [6][VectorSize]
	Bias    []float64   `json:"bias"`    // [6]
}

// WeightsPolicy scores each action as a linear function of the state vector
// and picks the argmax.
type WeightsPolicy struct {
	w weightsFile
}

// NewWeightsPolicy loads and validates a policy weights file.
func NewWeightsPolicy(path string) (*WeightsPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy weights %s: %w", path, err)
	}
	var w weightsFile
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse policy weights %s: %w", path, err)
	}
	if len(w.Weights) != 6 || len(w.Bias) != 6 {
		return nil, fmt.Errorf("policy weights %s must carry 6 actions", path)
	}
	for i, row := range w.Weights {
		if len(row) != state.VectorSize {
			return nil, fmt.Errorf("policy weights %s: action %d has %d weights, want %d",
				path, i, len(row), state.VectorSize)
		}
	}
	return &WeightsPolicy{w: w}, nil
}

// Decide returns the highest-scoring action.
func (p *WeightsPolicy) Decide(stateVec []float64) (Action, error) {
	if len(stateVec) != state.VectorSize {
		return ActionHold, fmt.Errorf("state vector has %d elements, want %d",
			len(stateVec), state.VectorSize)
	}

	best, bestScore := 0, 0.0
	for a := 0; a < 6; a++ {
		s := p.w.Bias[a]
		for i, v := range stateVec {
			s += p.w.Weights[a][i] * v
		}
		if a == 0 || s > bestScore {
			best, bestScore = a, s
		}
	}
	return Action(best), nil
}
