// Package token implements the half-open token Range type from spec §3,
// including the ring-wrap unwrapping spec §4.6 step 2 requires. Distance and
// wraparound arithmetic follow the same uint32 token space and
// tokenDistance-style math cortex's pkg/ring/ring.go uses for its own
// ownership accounting (countTokens/countTokensByAz).
package token

// Range is a half-open token interval [Start, End) that may wrap the ring.
type Range struct {
	Start, End uint32
}

// Wraps reports whether the range wraps around the ring (End <= Start).
func (r Range) Wraps() bool {
	return r.End <= r.Start
}

// Distance returns the number of tokens covered, matching cortex's
// tokenDistance helper (difference mod 2^32, using the full uint32 space).
func Distance(from, to uint32) uint32 {
	if to >= from {
		return to - from
	}
	return (math32Max - from) + to + 1
}

const math32Max = ^uint32(0)

// Unwrap splits a ring-wrapping range into one or two non-wrapping pieces,
// per spec §4.6 step 2 ("unwrapping any ring-spanning ranges into
// non-wrapping pieces").
func (r Range) Unwrap() []Range {
	if !r.Wraps() {
		return []Range{r}
	}
	return []Range{
		{Start: r.Start, End: math32Max},
		{Start: 0, End: r.End},
	}
}

// Split divides a non-wrapping range into n roughly equal non-wrapping
// subranges. If the partitioner's own splitter is unavailable, callers fall
// back to treating the whole range as a single split (spec §4.6.1,
// PartitionerNotSplittableError).
func (r Range) Split(n int) []Range {
	if n <= 1 || r.Wraps() {
		return []Range{r}
	}

	width := uint64(r.End) - uint64(r.Start)
	step := width / uint64(n)
	if step == 0 {
		return []Range{r}
	}

	out := make([]Range, 0, n)
	cur := uint64(r.Start)
	for i := 0; i < n; i++ {
		next := cur + step
		if i == n-1 {
			next = uint64(r.End)
		}
		out = append(out, Range{Start: uint32(cur), End: uint32(next)})
		cur = next
	}
	return out
}
