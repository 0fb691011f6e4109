package pinchsense

import (
	"math"
	"sync"
)

const (
	baselineHistory = 1000 // samples kept for the MAD estimate
	sigmaRecomputeN = 100  // recompute sigma every this many pushes
	sigmaMinSamples = 10   // history required before trusting the MAD
)

// BaselineTracker follows the quiescent level of a score stream. The mean is
// an EMA gated by a Hampel outlier test so gesture bursts do not drag it up;
// sigma comes from the MAD of a bounded history, recomputed periodically so
// the per-sample cost stays O(1) amortized.
type BaselineTracker struct {
	alpha   float64
	hampelK float64

	initialized bool
	mean        float64
	sigma       float64

	history []float64
	head    int
	size    int
	pushes  int

	mu sync.Mutex
}

// NewBaselineTracker creates a tracker with the given EMA coefficient and
// Hampel gate width.
func NewBaselineTracker(alpha, hampelK float64) *BaselineTracker {
	return &BaselineTracker{
		alpha:   alpha,
		hampelK: hampelK,
		sigma:   sigmaFloor,
		history: make([]float64, baselineHistory),
	}
}

// Update folds one sample into the baseline.
func (bt *BaselineTracker) Update(v float64) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	if !bt.initialized {
		bt.mean = v
		bt.initialized = true
	} else if math.Abs(v-bt.mean) <= bt.hampelK*bt.sigma {
		bt.mean = (1-bt.alpha)*bt.mean + bt.alpha*v
	}

	bt.history[bt.head] = v
	bt.head = (bt.head + 1) % len(bt.history)
	if bt.size < len(bt.history) {
		bt.size++
	}
	bt.pushes++
	if bt.pushes%sigmaRecomputeN == 0 {
		bt.recomputeSigma()
	}
}

// recomputeSigma refreshes the robust scale from the ring history.
// Caller holds the lock.
func (bt *BaselineTracker) recomputeSigma() {
	if bt.size <= sigmaMinSamples {
		return
	}
	vals := make([]float64, bt.size)
	copy(vals, bt.history[:bt.size])
	m := median(vals)
	for i := range vals {
		vals[i] = math.Abs(vals[i] - m)
	}
	sigma := madSigma * median(vals)
	if sigma < sigmaFloor {
		sigma = sigmaFloor
	}
	bt.sigma = sigma
}

// Threshold returns mean + k*sigma.
func (bt *BaselineTracker) Threshold(k float64) float64 {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return bt.mean + k*bt.sigma
}

// State reports the current mean and sigma.
func (bt *BaselineTracker) State() (mean, sigma float64, initialized bool) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return bt.mean, bt.sigma, bt.initialized
}
