package pinchsense

import "sort"

// localMaxima returns indices of strict local maxima of x.
func localMaxima(x []float64) []int {
	var peaks []int
	for i := 1; i < len(x)-1; i++ {
		if x[i] > x[i-1] && x[i] > x[i+1] {
			peaks = append(peaks, i)
		}
	}
	return peaks
}

// prominence measures how far a peak rises above the higher of the two
// valleys separating it from taller terrain (or the signal edge).
func prominence(x []float64, peak int) float64 {
	h := x[peak]

	leftMin := h
	for i := peak - 1; i >= 0; i-- {
		if x[i] > h {
			break
		}
		if x[i] < leftMin {
			leftMin = x[i]
		}
	}
	rightMin := h
	for i := peak + 1; i < len(x); i++ {
		if x[i] > h {
			break
		}
		if x[i] < rightMin {
			rightMin = x[i]
		}
	}

	base := leftMin
	if rightMin > base {
		base = rightMin
	}
	return h - base
}

// findPeaks locates local maxima of x with height >= minHeight, prominence
// >= minProminence, and pairwise spacing >= minDistance samples. When two
// peaks violate the spacing, the taller one survives.
func findPeaks(x []float64, minHeight, minProminence float64, minDistance int) []int {
	candidates := localMaxima(x)

	filtered := candidates[:0]
	for _, p := range candidates {
		if x[p] < minHeight {
			continue
		}
		if prominence(x, p) < minProminence {
			continue
		}
		filtered = append(filtered, p)
	}

	if minDistance <= 1 || len(filtered) == 0 {
		return append([]int(nil), filtered...)
	}

	// Resolve spacing by height priority.
	byHeight := append([]int(nil), filtered...)
	sort.SliceStable(byHeight, func(i, j int) bool { return x[byHeight[i]] > x[byHeight[j]] })

	removed := make(map[int]bool, len(byHeight))
	for _, p := range byHeight {
		if removed[p] {
			continue
		}
		for _, q := range filtered {
			if q == p || removed[q] {
				continue
			}
			if q > p-minDistance && q < p+minDistance {
				removed[q] = true
			}
		}
	}

	var kept []int
	for _, p := range filtered {
		if !removed[p] {
			kept = append(kept, p)
		}
	}
	return kept
}
