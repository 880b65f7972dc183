// Package predictor produces directional forecasts from feature maps. Two
// implementations exist: a linear model loaded from a weights file and a
// deterministic rule-based stand-in used when no trained artifact is
// available. The variant is chosen at construction, never by inspecting
// types at runtime.
package predictor

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Signal values. The centered form (signal-1) feeds the policy state vector.
const (
	SignalShort   = 0
	SignalNeutral = 1
	SignalLong    = 2
)

// Prediction is one forecast: a class signal, its confidence and a fractional
// price target.
type Prediction struct {
	Signal     int     // 0 short, 1 neutral, 2 long
	Confidence float64 // [0,1]
	Target     float64 // expected fractional move
}

// Predictor is the forecast contract the controller consumes.
type Predictor interface {
	Predict(features map[string]float64) (Prediction, error)
}

// RuleModel is the deterministic stand-in: momentum-with-RSI-filter rules
// over the feature map. It exists so the bot runs without trained weights.
type RuleModel struct {
	momentumThreshold float64
}

// NewRuleModel creates the rule-based predictor.
func NewRuleModel() *RuleModel {
	return &RuleModel{momentumThreshold: 0.005}
}

// Predict applies the momentum rules. A strong 20-period move that RSI does
// not contradict yields a directional signal; anything else is neutral.
func (m *RuleModel) Predict(features map[string]float64) (Prediction, error) {
	if len(features) == 0 {
		return Prediction{}, fmt.Errorf("empty feature map")
	}

	ret20 := features["return_20"]
	rsi := features["rsi_14"]
	natr := features["natr"]

	target := 2 * natr
	if target == 0 {
		target = 0.01
	}

	switch {
	case ret20 > m.momentumThreshold && rsi < 70:
		conf := clamp(0.5+math.Abs(ret20)*10, 0, 0.9)
		return Prediction{Signal: SignalLong, Confidence: conf, Target: target}, nil
	case ret20 < -m.momentumThreshold && rsi > 30:
		conf := clamp(0.5+math.Abs(ret20)*10, 0, 0.9)
		return Prediction{Signal: SignalShort, Confidence: conf, Target: target}, nil
	default:
		return Prediction{Signal: SignalNeutral, Confidence: 0.5, Target: target}, nil
	}
}

// weightsFile is the serialized linear model format.
type weightsFile struct {
	FeatureOrder  []string    `json:"feature_order"`
	SignalWeights [][]float64 `json:"signal_weights"` // [3][len(features)]
	SignalBias    []float64   `json:"signal_bias"`    // [3]
	TargetWeights []float64   `json:"target_weights"` // [len(features)]
	TargetBias    float64     `json:"target_bias"`
}

// WeightsModel is a linear classifier plus regressor loaded from a JSON
// weights file: softmax over three class scores for the signal, a linear
// combination for the target.
type WeightsModel struct {
	w weightsFile
}

// NewWeightsModel loads and validates a weights file.
func NewWeightsModel(path string) (*WeightsModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file %s: %w", path, err)
	}
	var w weightsFile
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse weights file %s: %w", path, err)
	}

	if len(w.FeatureOrder) == 0 {
		return nil, fmt.Errorf("weights file %s has no feature order", path)
	}
	if len(w.SignalWeights) != 3 || len(w.SignalBias) != 3 {
		return nil, fmt.Errorf("weights file %s must carry 3 signal classes", path)
	}
	for i, row := range w.SignalWeights {
		if len(row) != len(w.FeatureOrder) {
			return nil, fmt.Errorf("weights file %s: class %d has %d weights, want %d",
				path, i, len(row), len(w.FeatureOrder))
		}
	}
	if len(w.TargetWeights) != len(w.FeatureOrder) {
		return nil, fmt.Errorf("weights file %s: target has %d weights, want %d",
			path, len(w.TargetWeights), len(w.FeatureOrder))
	}
	return &WeightsModel{w: w}, nil
}

// Predict scores the feature vector. Missing features contribute zero.
func (m *WeightsModel) Predict(features map[string]float64) (Prediction, error) {
	if len(features) == 0 {
		return Prediction{}, fmt.Errorf("empty feature map")
	}

	x := make([]float64, len(m.w.FeatureOrder))
	for i, name := range m.w.FeatureOrder {
		x[i] = features[name]
	}

	scores := make([]float64, 3)
	for class := 0; class < 3; class++ {
		s := m.w.SignalBias[class]
		for i, v := range x {
			s += m.w.SignalWeights[class][i] * v
		}
		scores[class] = s
	}
	probs := softmax(scores)

	signal := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[signal] {
			signal = i
		}
	}

	target := m.w.TargetBias
	for i, v := range x {
		target += m.w.TargetWeights[i] * v
	}

	return Prediction{Signal: signal, Confidence: probs[signal], Target: target}, nil
}

func softmax(scores []float64) []float64 {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	var sum float64
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
