// Package sketch implements a small mergeable cardinality estimator for the
// Size Oracle (spec §4.3 step 2: "merge unit-level cardinality sketches
// (HyperLogLog-class) to estimate distinct partitions"). None of the example
// corpus vendors a ready-made mergeable-HLL package with this exact API, so
// the bucket/merge/estimate algorithm below is hand-written standard
// HyperLogLog math (Flajolet et al.); what is reused from the corpus is the
// hash function itself, github.com/dgryski/go-metro, a dependency already
// pulled in transitively by the teacher's go.mod.
package sketch

import (
	"math"
	"math/bits"

	"github.com/dgryski/go-metro"
)

const (
	precision = 14 // 2^14 = 16384 registers, ~0.8% standard error
	numBuckets = 1 << precision
)

// Sketch is a mergeable HyperLogLog-class cardinality estimator. The zero
// value is a valid empty sketch.
type Sketch struct {
	registers [numBuckets]uint8
}

// Add hashes a partition key into the sketch.
func (s *Sketch) Add(key []byte) {
	h := metro.Hash64(key, 0)
	idx := h >> (64 - precision)
	rest := h<<precision | (1 << (precision - 1))
	rho := uint8(bits.LeadingZeros64(rest) + 1)
	if rho > s.registers[idx] {
		s.registers[idx] = rho
	}
}

// Merge folds another sketch's registers into this one, taking the max per
// bucket, the standard HLL merge operation.
func (s *Sketch) Merge(other *Sketch) {
	if other == nil {
		return
	}
	for i := range s.registers {
		if other.registers[i] > s.registers[i] {
			s.registers[i] = other.registers[i]
		}
	}
}

// Cardinality returns the estimated number of distinct partitions added.
func (s *Sketch) Cardinality() uint64 {
	m := float64(numBuckets)
	sum := 0.0
	zeros := 0
	for _, r := range s.registers {
		sum += 1.0 / math.Pow(2, float64(r))
		if r == 0 {
			zeros++
		}
	}

	alpha := 0.7213 / (1 + 1.079/m)
	estimate := alpha * m * m / sum

	// Small-range correction, per the original HLL paper.
	if estimate <= 2.5*m && zeros > 0 {
		estimate = m * math.Log(m/float64(zeros))
	}

	if estimate < 0 {
		return 0
	}
	return uint64(estimate)
}
