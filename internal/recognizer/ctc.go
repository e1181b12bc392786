package recognizer

import (
	"fmt"
	"math"
)

// BlankIndex is the CTC blank class.
const BlankIndex = 0

// Decoded is the result of greedy CTC decoding of one sequence.
type Decoded struct {
	// Indices holds the emitted class indices (blank and repeats removed).
	Indices []int
	// Probs holds the probability of each emitted timestep.
	Probs []float64
}

// Confidence returns the mean emitted-timestep probability, or 0 when nothing was emitted.
func (d Decoded) Confidence() float64 {
	if len(d.Probs) == 0 {
		return 0
	}
	s := 0.0
	for _, p := range d.Probs {
		s += p
	}
	return s / float64(len(d.Probs))
}

// argmax returns the index of the largest value (first on ties).
func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// timestepProb returns the probability of class idx in one timestep row.
// Rows that already form a distribution are read directly. Otherwise a
// stable softmax is applied; for log-probabilities this equals exp(row[idx]).
func timestepProb(row []float32, idx int) float64 {
	sum := 0.0
	lo, hi := row[0], row[0]
	for _, v := range row {
		sum += float64(v)
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if lo >= 0 && hi <= 1 && math.Abs(sum-1) < 0.01 {
		return float64(row[idx])
	}
	denom := 0.0
	for _, v := range row {
		denom += math.Exp(float64(v - hi))
	}
	if denom == 0 {
		return 0
	}
	return math.Exp(float64(row[idx]-hi)) / denom
}

// CTCCollapse drops blanks and repeats: an index is emitted when it is not
// blank and differs from the previous timestep's index.
func CTCCollapse(indices []int, blank int) []int {
	out := make([]int, 0, len(indices))
	prev := -1
	for _, idx := range indices {
		if idx != blank && idx != prev {
			out = append(out, idx)
		}
		prev = idx
	}
	return out
}

// DecodeCTCGreedy decodes a [1, T, C] output by taking the argmax per
// timestep and collapsing it.
func DecodeCTCGreedy(data []float32, shape []int64, blank int) (Decoded, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return Decoded{}, fmt.Errorf("expected recognition output [1,T,C], got %v", shape)
	}
	steps, classes := int(shape[1]), int(shape[2])
	if steps <= 0 || classes <= 0 || len(data) < steps*classes {
		return Decoded{}, fmt.Errorf("invalid recognition output shape %v for %d values", shape, len(data))
	}

	var d Decoded
	prev := -1
	for t := range steps {
		row := data[t*classes : (t+1)*classes]
		idx := argmax(row)
		if idx != blank && idx != prev {
			d.Indices = append(d.Indices, idx)
			d.Probs = append(d.Probs, timestepProb(row, idx))
		}
		prev = idx
	}
	return d, nil
}
