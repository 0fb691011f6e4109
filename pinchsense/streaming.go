package pinchsense

import (
	"math"
	"sync"
)

// StreamingDetector is the sample-driven state machine for real-time use.
// Candidates are generated liberally at a low threshold, buffered for
// decision_latency_s in case a stronger peak follows, then confirmed against
// a stricter threshold under a physiological minimum event spacing.
//
// Callers must serialize ProcessSample calls; the detector is single-
// threaded by construction.
type StreamingDetector struct {
	cfg      Config
	fusion   *StreamingFusion
	baseline *BaselineTracker

	lastConfirmed float64
	candidate     *Candidate
	prevScore     float64
	inPeak        bool

	lastScore     float64
	lastThreshold float64

	listeners []func(Event)
	mu        sync.Mutex
}

// NewStreamingDetector validates the config and builds a detector with
// fresh filter and baseline state.
func NewStreamingDetector(cfg Config) (*StreamingDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StreamingDetector{
		cfg:           cfg,
		fusion:        NewStreamingFusion(),
		baseline:      NewBaselineTracker(cfg.Streaming.BaselineAlpha, cfg.Streaming.HampelK),
		lastConfirmed: math.Inf(-1),
	}, nil
}

// AddListener registers a callback invoked for every confirmed event.
func (d *StreamingDetector) AddListener(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// ProcessSample feeds one sensor sample and returns a confirmed event once
// its decision latency has elapsed, or nil.
func (d *StreamingDetector) ProcessSample(t float64, acc, gyro [3]float64) *Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.cfg.Streaming

	s := d.fusion.Score(acc, gyro)
	d.baseline.Update(s)
	thrLib := d.baseline.Threshold(p.KMadLiberal)
	d.lastScore, d.lastThreshold = s, thrLib

	// A buffered candidate whose decision window has elapsed is resolved
	// before anything else.
	if d.candidate != nil && t >= d.candidate.Time+p.DecisionLatencyS {
		if ev := d.confirm(); ev != nil {
			return ev
		}
	}

	// Refractory dead zone after a confirmed event.
	if t < d.lastConfirmed+p.MinIntervalS {
		return nil
	}

	d.trackPeak(t, s, thrLib, acc, gyro)
	d.prevScore = s
	return nil
}

// trackPeak follows the rising/falling shape of the score. The sample where
// the score first stops rising is adopted as the peak; a stronger peak
// inside the decision window replaces a weaker buffered candidate.
func (d *StreamingDetector) trackPeak(t, s, thr float64, acc, gyro [3]float64) {
	rising := s > d.prevScore
	above := s > thr

	switch {
	case above && rising && !d.inPeak:
		d.inPeak = true
	case d.inPeak && !rising:
		if d.prevScore > thr {
			cand := &Candidate{
				Index:     -1,
				Time:      t,
				Score:     d.prevScore, // previous sample held the maximum
				Threshold: thr,
				AccPeak:   norm3(acc),
				GyroPeak:  norm3(gyro),
			}
			if d.candidate == nil || cand.Score > d.candidate.Score {
				d.candidate = cand
			}
		}
		d.inPeak = false
	}
}

// confirm resolves the buffered candidate against the strict threshold.
// The candidate is consumed either way.
func (d *StreamingDetector) confirm() *Event {
	cand := d.candidate
	d.candidate = nil
	if cand == nil {
		return nil
	}
	thrConf := d.baseline.Threshold(d.cfg.Streaming.KMadConfirm)
	if cand.Score < thrConf {
		return nil
	}
	ev := Event{
		Index:     -1,
		Time:      cand.Time,
		Score:     cand.Score,
		Threshold: cand.Threshold,
		AccPeak:   cand.AccPeak,
		GyroPeak:  cand.GyroPeak,
	}
	d.lastConfirmed = cand.Time
	for _, fn := range d.listeners {
		fn(ev)
	}
	return &ev
}

// Flush resolves a pending candidate at end of stream, provided its
// decision latency has elapsed by the final timestamp.
func (d *StreamingDetector) Flush(tLast float64) *Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.candidate == nil || tLast < d.candidate.Time+d.cfg.Streaming.DecisionLatencyS {
		return nil
	}
	return d.confirm()
}

// LastScore reports the fusion score and liberal threshold of the most
// recently processed sample, for telemetry.
func (d *StreamingDetector) LastScore() (score, threshold float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastScore, d.lastThreshold
}

// DetectBatch replays a recorded session through the streaming state
// machine, sample by sample, and packages the reporter contract.
func (d *StreamingDetector) DetectBatch(stream *SensorStream) (*Result, error) {
	if err := stream.Validate(d.cfg.Analysis.MinDurationS); err != nil {
		return nil, err
	}
	n := stream.Len()
	events := make([]Event, 0, 16)
	scores := make([]float64, n)
	thresholds := make([]float64, n)

	for i := 0; i < n; i++ {
		ev := d.ProcessSample(stream.Time[i], stream.AccXYZ[i], stream.GyroXYZ[i])
		scores[i], thresholds[i] = d.LastScore()
		if ev != nil {
			events = append(events, *ev)
		}
	}
	if ev := d.Flush(stream.Time[n-1]); ev != nil {
		events = append(events, *ev)
	}

	return &Result{
		DetectorType: DetectorStreaming,
		Events:       events,
		Score:        scores,
		Threshold:    thresholds,
		Params:       d.cfg,
		Stream:       stream,
	}, nil
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
