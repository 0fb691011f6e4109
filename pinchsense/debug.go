package pinchsense

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Thresholds for the k_mad recommendation warnings.
const (
	kMadCautionBelow = 2.0
	kMadWarnBelow    = 1.5
)

// MissedPeak is a prominent local maximum of the fusion score that stayed
// under the adaptive threshold.
type MissedPeak struct {
	Index     int     `json:"index"`
	Time      float64 `json:"time"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Margin    float64 `json:"margin"` // score - threshold, negative for misses
}

// ThresholdReport summarizes why promising peaks were not detected and what
// k_mad would have caught the closest misses.
type ThresholdReport struct {
	AllPeaks        int          `json:"all_peaks"`
	AboveThreshold  int          `json:"above_threshold"`
	BelowThreshold  int          `json:"below_threshold"`
	MissedPeaks     []MissedPeak `json:"missed_peaks"` // top 5 closest to the threshold
	CurrentKMad     float64      `json:"current_k_mad"`
	RecommendedKMad float64      `json:"recommended_k_mad,omitempty"`
	ReductionFactor float64      `json:"reduction_factor,omitempty"`
	Warning         string       `json:"warning,omitempty"`
}

// ThresholdDebugger explains near-miss peaks of an offline run.
type ThresholdDebugger struct {
	cfg Config
}

// NewThresholdDebugger builds a debugger sharing the detector's parameters.
func NewThresholdDebugger(cfg Config) *ThresholdDebugger {
	return &ThresholdDebugger{cfg: cfg}
}

// Analyze inspects an offline result's score/threshold pair. Local maxima
// with height at or above the 75th score percentile, spacing of at least
// 50 ms and prominence >= 1.0 are classified against the threshold; for the
// five closest misses it solves for the k_mad that would have matched the
// peak, and averages the per-peak reduction factors into a recommendation.
func (td *ThresholdDebugger) Analyze(res *Result) (*ThresholdReport, error) {
	if res.DetectorType != DetectorStationary {
		return nil, fmt.Errorf("threshold debugging requires a stationary result, got %s", res.DetectorType)
	}
	score, threshold := res.Score, res.Threshold
	t, fs := res.Stream.Time, res.Stream.FS
	p := td.cfg.Stationary

	sorted := append([]float64(nil), score...)
	sort.Float64s(sorted)
	minHeight := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	minDistance := int(math.Round(0.05 * fs))

	peaks := findPeaks(score, minHeight, 1.0, minDistance)

	report := &ThresholdReport{AllPeaks: len(peaks), CurrentKMad: p.KMad}
	var missed []MissedPeak
	for _, idx := range peaks {
		if score[idx] > threshold[idx] {
			report.AboveThreshold++
			continue
		}
		report.BelowThreshold++
		missed = append(missed, MissedPeak{
			Index:     idx,
			Time:      t[idx],
			Score:     score[idx],
			Threshold: threshold[idx],
			Margin:    score[idx] - threshold[idx],
		})
	}
	if len(missed) == 0 {
		return report, nil
	}

	// Closest misses first.
	sort.Slice(missed, func(i, j int) bool { return missed[i].Margin > missed[j].Margin })
	if len(missed) > 5 {
		missed = missed[:5]
	}
	report.MissedPeaks = missed

	w := int(math.Round(p.ThrWin * fs))
	if w < 3 {
		w = 3
	}
	var reductions []float64
	for _, mp := range missed {
		lo := mp.Index - w/2
		if lo < 0 {
			lo = 0
		}
		hi := mp.Index + w/2
		if hi > len(score) {
			hi = len(score)
		}
		local := append([]float64(nil), score[lo:hi]...)
		if len(local) <= 3 {
			continue
		}
		m := median(local)
		for i := range local {
			local[i] = math.Abs(local[i] - m)
		}
		mad := median(local)
		if mad <= epsScale {
			continue
		}
		neededK := (mp.Score - m) / (madSigma * mad)
		currentK := (mp.Threshold - m) / (madSigma * mad)
		if currentK <= 0 {
			continue
		}
		reductions = append(reductions, neededK/currentK)
	}
	if len(reductions) == 0 {
		return report, nil
	}

	factor := stat.Mean(reductions, nil)
	report.ReductionFactor = factor
	report.RecommendedKMad = p.KMad * factor
	switch {
	case report.RecommendedKMad < kMadWarnBelow:
		report.Warning = fmt.Sprintf("k_mad %.2f below %.1f may cause many false positives", report.RecommendedKMad, kMadWarnBelow)
	case report.RecommendedKMad < kMadCautionBelow:
		report.Warning = fmt.Sprintf("k_mad %.2f below %.1f may increase noise detection", report.RecommendedKMad, kMadCautionBelow)
	}
	return report, nil
}
