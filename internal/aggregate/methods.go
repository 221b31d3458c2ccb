package aggregate

import (
	"fmt"
	"math"

	"github.com/paw2paw/hf-pipeline/internal/guardrail"
	"github.com/paw2paw/hf-pipeline/internal/spec"
	"github.com/paw2paw/hf-pipeline/internal/store"
)

// #region window
// Window summarizes a most-recent-first run of score events.
type Window struct {
	Scores         []float64 // clamped, most recent first
	WeightedMean   float64   // weight 1/(i+1) for the i-th most recent event, snapped to meanPrecision
	MeanConfidence float64   // unweighted
}

// meanPrecision absorbs the rounding left by the weighted division, so a window of
// scores sitting on a band boundary stays on it.
const meanPrecision = 1e12

// NewWindow builds a window from events ordered most recent first.
func NewWindow(events []store.ScoreEvent) Window {
	w := Window{Scores: make([]float64, len(events))}
	if len(events) == 0 {
		return w
	}
	var sum, weights, conf float64
	for i, ev := range events {
		score := guardrail.Unit(ev.Score)
		weight := 1.0 / float64(i+1)
		w.Scores[i] = score
		sum += score * weight
		weights += weight
		conf += guardrail.Unit(ev.Confidence)
	}
	w.WeightedMean = guardrail.Unit(math.Round(sum/weights*meanPrecision) / meanPrecision)
	w.MeanConfidence = guardrail.Unit(conf / float64(len(events)))
	return w
}

// #endregion window

// #region outcome
// Outcome is the value a rule produced for its profile key.
type Outcome struct {
	Value      string
	Confidence float64
}

// Evaluate applies rule's method to the window. ok is false when the rule matched
// no band and so produces nothing.
func Evaluate(rule spec.AggregationRule, w Window) (out Outcome, ok bool, err error) {
	switch rule.Method {
	case spec.MethodWeightedAverage:
		return weightedAverage(w), true, nil
	case spec.MethodThresholdMapping:
		out, ok = thresholdMapping(rule.Thresholds, w)
		return out, ok, nil
	case spec.MethodConsensus:
		return consensus(w), true, nil
	}
	return Outcome{}, false, fmt.Errorf("unknown aggregation method %q", rule.Method)
}

// #endregion outcome

// #region methods
func weightedAverage(w Window) Outcome {
	return Outcome{
		Value:      fmt.Sprintf("%.2f", w.WeightedMean),
		Confidence: w.MeanConfidence,
	}
}

// thresholdMapping picks the first band, in declared order, holding the weighted mean.
func thresholdMapping(bands []spec.Threshold, w Window) (Outcome, bool) {
	for _, band := range bands {
		if !band.Contains(w.WeightedMean) {
			continue
		}
		conf := w.MeanConfidence
		if band.Confidence != nil {
			conf = math.Min(guardrail.Unit(*band.Confidence), w.MeanConfidence)
		}
		return Outcome{Value: band.Value, Confidence: conf}, true
	}
	return Outcome{}, false
}

// consensus picks the most frequent 0.1 bucket. Ties go to the bucket seen first,
// which is the more recent one.
func consensus(w Window) Outcome {
	counts := make(map[int]int, len(w.Scores))
	var order []int
	for _, s := range w.Scores {
		b := int(math.Round(s * 10))
		if counts[b] == 0 {
			order = append(order, b)
		}
		counts[b]++
	}

	best, bestCount := 0, 0
	for _, b := range order {
		if counts[b] > bestCount {
			best, bestCount = b, counts[b]
		}
	}
	if len(w.Scores) == 0 {
		return Outcome{}
	}
	return Outcome{
		Value:      fmt.Sprintf("%.1f", float64(best)/10),
		Confidence: float64(bestCount) / float64(len(w.Scores)),
	}
}

// #endregion methods
