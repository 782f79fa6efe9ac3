// Package sizeoracle implements the Size Oracle from spec §4.3: for a
// (keyspace, table, range) it estimates bytes and partition counts by
// accumulating per-storage-unit stats and merging cardinality sketches.
package sizeoracle

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/sketch"
	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/token"
	"github.com/cortexproject/cortex-autorepair/pkg/kv"
)

// RepairType re-exported for convenience at call sites that only import
// this package.
type RepairType = kv.RepairType

// StorageUnit is the narrow view of a readable on-disk unit (an SSTable, in
// cortex/Cassandra terms) the Size Oracle needs. The real storage engine is
// out of scope per spec §1; this is the external collaborator interface.
type StorageUnit interface {
	OnDiskLength() int64
	// OnDiskSizeForRange estimates the portion of this unit's on-disk bytes
	// that overlap r; may over-estimate due to compressed chunk
	// granularity, which is why callers take min() against OnDiskLength.
	OnDiskSizeForRange(r token.Range) int64
	// PartitionKeys streams the unit's partition keys for cardinality
	// sketch construction. Implementations may sample rather than read
	// every key; this is an estimate, not an exact count.
	PartitionKeys() [][]byte
	// Repaired reports whether this unit has already been anticompacted by
	// incremental repair (spec §4.3 step 1: INCREMENTAL filters to
	// not-yet-repaired units only).
	Repaired() bool
}

// TableUnits resolves the live storage units for one (keyspace, table),
// modeling the "snapshot references to the table's readable storage units"
// step. A nil return with ok=false means the table was concurrently dropped
// (spec §4.6.1/§7 MissingTableError).
type TableUnits interface {
	Units(ctx context.Context, keyspace, table string) (units []StorageUnit, ok bool, err error)
	// MemtableBytes returns the current in-memory write-buffer size for the
	// table, used by the zero-size fallback in spec §4.3's edge case.
	MemtableBytes(ctx context.Context, keyspace, table string) (int64, error)
}

// Estimate is the SizeEstimate from spec §3.
type Estimate struct {
	RepairType  RepairType
	Keyspace    string
	Table       string
	Range       token.Range
	Partitions  uint64
	SizeInRange int64
	TotalSize   int64
}

// SizeForRepair implements spec §3's derived field: incremental repair must
// consider the whole table (anticompaction rewrites whole SSTables), full
// repair only the portion overlapping the range.
func (e Estimate) SizeForRepair() int64 {
	if e.RepairType == kv.Incremental {
		return e.TotalSize
	}
	return e.SizeInRange
}

// Oracle is the Size Oracle component.
type Oracle struct {
	units TableUnits
}

func New(units TableUnits) *Oracle {
	return &Oracle{units: units}
}

// Estimate computes a SizeEstimate for one (keyspace, table, range), per
// spec §4.3 steps 1-3.
func (o *Oracle) Estimate(ctx context.Context, t RepairType, keyspace, table string, r token.Range) (Estimate, error) {
	units, ok, err := o.units.Units(ctx, keyspace, table)
	if err != nil {
		return Estimate{}, err
	}
	if !ok {
		return Estimate{}, ErrMissingTable
	}

	type partial struct {
		totalBytes     int64
		approxBytesInR int64
		sketch         sketch.Sketch
	}
	partials := make([]partial, len(units))

	// Per-unit scans (on-disk size accounting, partition-key sampling) are
	// independent; run them concurrently and merge sequentially, the same
	// fan-out-then-merge shape as the teacher's errgroup-driven concurrent
	// blocks scans.
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range units {
		i, u := i, u
		if t == kv.Incremental && u.Repaired() {
			continue
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			p := partial{totalBytes: u.OnDiskLength()}

			inRange := u.OnDiskSizeForRange(r)
			if inRange > u.OnDiskLength() {
				inRange = u.OnDiskLength()
			}
			p.approxBytesInR = inRange

			for _, k := range u.PartitionKeys() {
				p.sketch.Add(k)
			}

			partials[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Estimate{}, err
	}

	var (
		totalBytes     int64
		approxBytesInR int64
		merged         sketch.Sketch
	)
	for _, p := range partials {
		totalBytes += p.totalBytes
		approxBytesInR += p.approxBytesInR
		merged.Merge(&p.sketch)
	}

	var partitions uint64
	if totalBytes > 0 {
		frac := float64(approxBytesInR) / float64(totalBytes)
		est := float64(merged.Cardinality()) * frac
		partitions = uint64(math.Ceil(est))
		if partitions < 1 {
			partitions = 1
		}
	}

	return Estimate{
		RepairType:  t,
		Keyspace:    keyspace,
		Table:       table,
		Range:       r,
		Partitions:  partitions,
		SizeInRange: approxBytesInR,
		TotalSize:   totalBytes,
	}, nil
}

// MemtableBytes exposes the write-buffer size used by the zero-size
// fallback in spec §4.3/§4.6.1.
func (o *Oracle) MemtableBytes(ctx context.Context, keyspace, table string) (int64, error) {
	return o.units.MemtableBytes(ctx, keyspace, table)
}

// TableBytes sums on-disk bytes for a table's eligible units, respecting the
// same INCREMENTAL not-yet-repaired filter as Estimate. Used by the
// Splitter's keyspace-batching step (spec §4.6.2), which sorts a keyspace's
// tables ascending by on-disk size before batching.
func (o *Oracle) TableBytes(ctx context.Context, t RepairType, keyspace, table string) (int64, error) {
	units, ok, err := o.units.Units(ctx, keyspace, table)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrMissingTable
	}

	var total int64
	for _, u := range units {
		if t == kv.Incremental && u.Repaired() {
			continue
		}
		total += u.OnDiskLength()
	}
	return total, nil
}

// ErrMissingTable is spec §7's MissingTableError: the table was dropped
// between planning steps.
var ErrMissingTable = missingTableError{}

type missingTableError struct{}

func (missingTableError) Error() string { return "table dropped during planning" }
