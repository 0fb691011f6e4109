package pinchsense

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// StationaryDetector is the offline adaptive-z-score pipeline: high-pass,
// derivative channels, 4-component robust-z fusion, adaptive threshold, then
// a gated candidate sweep.
type StationaryDetector struct {
	cfg Config
}

// NewStationaryDetector validates the config and builds the detector.
func NewStationaryDetector(cfg Config) (*StationaryDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StationaryDetector{cfg: cfg}, nil
}

// Detect runs the batch pipeline over one session. With collectRejections
// set, every above-threshold candidate that fails validation is filed in the
// returned ledger.
func (d *StationaryDetector) Detect(stream *SensorStream, collectRejections bool) (*Result, error) {
	if err := stream.Validate(d.cfg.Analysis.MinDurationS); err != nil {
		return nil, err
	}
	p := d.cfg.Stationary
	fs := stream.FS
	dt := 1.0 / fs

	aHP := HPMovingMean(stream.AccMag, fs, p.HPWin)
	da := Gradient(aHP, dt)
	dg := Gradient(stream.GyroMag, dt)

	zA := RobustZ(aHP, fs, p.ThrWin)
	zG := RobustZ(stream.GyroMag, fs, p.ThrWin)
	zDA := RobustZ(Abs(da), fs, p.ThrWin)
	zDG := RobustZ(Abs(dg), fs, p.ThrWin)

	score := OfflineFusion(zA, zG, zDA, zDG)
	threshold := AdaptiveThreshold(score, fs, p.ThrWin, p.KMad)

	res := &Result{
		DetectorType: DetectorStationary,
		Score:        score,
		Threshold:    threshold,
		Components:   &Components{ZA: zA, ZG: zG, ZDA: zDA, ZDG: zDG},
		AHP:          aHP,
		Params:       d.cfg,
		Stream:       stream,
	}

	var ledger *RejectionLedger
	if collectRejections {
		ledger = &RejectionLedger{}
		res.Rejections = ledger
	}
	res.Events = d.sweep(stream, score, threshold, aHP, ledger)
	return res, nil
}

// sweep walks every above-threshold index in scan order and applies the
// validation chain: refractory, local maximum, amplitude gates, minimum
// inter-event spacing. A nil ledger skips rejection bookkeeping.
func (d *StationaryDetector) sweep(stream *SensorStream, score, threshold, aHP []float64, ledger *RejectionLedger) []Event {
	p := d.cfg.Stationary
	fs := stream.FS
	n := len(score)
	g := stream.GyroMag

	refr := int(math.Round(p.RefractoryS * fs))
	pw := int(math.Round(p.PeakWinS * fs))
	gate := int(math.Round(p.GateWinS * fs))
	minIEI := int(math.Round(p.MinIEIS * fs))

	events := make([]Event, 0, 16)
	last := math.MinInt32

	for i := 0; i < n; i++ {
		if !(score[i] > threshold[i]) {
			continue
		}
		cand := Candidate{
			Index:     i,
			Time:      stream.Time[i],
			Score:     score[i],
			Threshold: threshold[i],
			AccPeak:   aHP[i],
			GyroPeak:  g[i],
		}

		if i-last < refr {
			if ledger != nil {
				ledger.Refractory = append(ledger.Refractory, cand)
			}
			continue
		}

		// Local maximum over +-peakwin, first-equal index wins ties.
		i0 := max(0, i-pw)
		i1 := min(n, i+pw+1)
		if i != i0+floats.MaxIdx(score[i0:i1]) {
			if ledger != nil {
				ledger.NotPeak = append(ledger.NotPeak, cand)
			}
			continue
		}

		g0 := max(0, i-gate)
		g1 := min(n, i+gate+1)
		accPass := floats.Max(aHP[g0:g1]) >= p.AccGate
		gyroPass := floats.Max(g[g0:g1]) >= p.GyroGate
		if ledger != nil {
			if !accPass {
				ledger.AccGates = append(ledger.AccGates, cand)
			}
			if !gyroPass {
				ledger.GyroGates = append(ledger.GyroGates, cand)
			}
		}
		if !accPass || !gyroPass {
			continue
		}

		if len(events) > 0 && i-events[len(events)-1].Index < minIEI {
			if ledger != nil {
				ledger.MinIEI = append(ledger.MinIEI, cand)
			}
			continue
		}

		events = append(events, Event{
			Index:     i,
			Time:      cand.Time,
			Score:     cand.Score,
			Threshold: cand.Threshold,
			AccPeak:   cand.AccPeak,
			GyroPeak:  cand.GyroPeak,
		})
		last = i
	}
	return events
}
