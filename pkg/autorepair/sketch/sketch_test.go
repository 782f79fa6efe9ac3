package sketch

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func keys(n int, prefix string) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("%s-%d", prefix, i))
	}
	return out
}

func withinErrorPct(t *testing.T, want float64, got uint64, pct float64) {
	t.Helper()
	diff := math.Abs(float64(got) - want)
	require.LessOrEqualf(t, diff, want*pct, "estimate %d too far from %v (%.1f%% tolerance)", got, want, pct*100)
}

func TestSketch_EmptyIsZero(t *testing.T) {
	var s Sketch
	require.Equal(t, uint64(0), s.Cardinality())
}

func TestSketch_ApproximatesCardinality(t *testing.T) {
	var s Sketch
	n := 100000
	for _, k := range keys(n, "partition") {
		s.Add(k)
	}
	withinErrorPct(t, float64(n), s.Cardinality(), 0.05)
}

func TestSketch_MergeIsUnionNotSum(t *testing.T) {
	var a, b Sketch
	for _, k := range keys(50000, "a") {
		a.Add(k)
	}
	for _, k := range keys(50000, "a") {
		// Same keys again: union cardinality should stay ~50000, not double.
		b.Add(k)
	}
	a.Merge(&b)
	withinErrorPct(t, 50000, a.Cardinality(), 0.05)
}

func TestSketch_MergeWithZeroValueIsNoOp(t *testing.T) {
	var s Sketch
	for _, k := range keys(1000, "x") {
		s.Add(k)
	}
	before := s.Cardinality()

	var zero Sketch
	s.Merge(&zero)

	require.Equal(t, before, s.Cardinality())
}

func TestSketch_MergeNilIsNoOp(t *testing.T) {
	var s Sketch
	s.Add([]byte("x"))
	before := s.Cardinality()
	s.Merge(nil)
	require.Equal(t, before, s.Cardinality())
}
