package autorepair

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"

	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/sizeoracle"
	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/token"
)

// RangeSource resolves the token ranges a keyspace must be split across,
// per spec §4.6 step 2 ("local or primary ranges per primaryRangeOnly").
// Concrete implementations adapt pkg/autorepair/topology.Topology.
type RangeSource interface {
	RangesForKeyspace(ctx context.Context, keyspace string, primaryRangeOnly bool, myHostID uuid.UUID) ([]token.Range, error)
}

// KeyspaceTables names the tables to plan within one keyspace, the leaf of
// the plan() request shape from spec §4.6.
type KeyspaceTables struct {
	Keyspace string
	Tables   []string
}

// PriorityBucketPlan is one entry of plan()'s prioritizedPlans argument.
type PriorityBucketPlan struct {
	PriorityBucket int
	Keyspaces      []KeyspaceTables
}

// Splitter is the Assignment Splitter component (spec §4.6).
type Splitter struct {
	Oracle  *sizeoracle.Oracle
	Ranges  RangeSource
	Logger  log.Logger
	Metrics *Metrics
	// Rand drives the per-keyspace range shuffle (step 3). Nil uses a fresh
	// time-seeded source for each shuffle.
	Rand *rand.Rand
}

func (s *Splitter) logger() log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.NewNopLogger()
}

func (s *Splitter) rand() *rand.Rand {
	if s.Rand != nil {
		return s.Rand
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Plan is the Splitter's public contract (spec §4.6): plan(primaryRangeOnly,
// prioritizedPlans) -> Iterator<KeyspaceRepairAssignments>. Per spec §9's
// "iterator with side effects" design note, the returned Iterator is a lazy,
// non-restartable, single-consumer sequence carrying the bytesSoFar
// accumulator across yields; it is not safe for concurrent consumption
// (spec §5).
func (s *Splitter) Plan(t RepairType, cfg SplitterConfig, repairByKeyspace, primaryRangeOnly bool, myHostID uuid.UUID, prioritizedPlans []PriorityBucketPlan) (*Iterator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var queue []queueItem
	for _, bucket := range prioritizedPlans {
		for _, ks := range bucket.Keyspaces {
			queue = append(queue, queueItem{priorityBucket: bucket.PriorityBucket, keyspace: ks.Keyspace, tables: ks.Tables})
		}
	}

	return &Iterator{
		s:                   s,
		t:                   t,
		cfg:                 cfg,
		repairByKeyspace:    repairByKeyspace,
		primaryRangeOnly:    primaryRangeOnly,
		myHostID:            myHostID,
		queue:               queue,
		missingTablesLogged: map[string]bool{},
	}, nil
}

type queueItem struct {
	priorityBucket int
	keyspace       string
	tables         []string
}

// Iterator is the lazy, single-consumer sequence plan() returns.
type Iterator struct {
	s                *Splitter
	t                RepairType
	cfg              SplitterConfig
	repairByKeyspace bool
	primaryRangeOnly bool
	myHostID         uuid.UUID

	queue []queueItem
	idx   int

	// bytesSoFar is the cross-yield accumulator spec §4.6 names explicitly.
	// It's an atomic.Int64 (rather than a plain int64) so a caller driving
	// Next from a worker pool that also reports progress concurrently can
	// read it without a race, even though Next itself remains single-writer
	// (spec §5: the iterator is not safe for concurrent consumption).
	bytesSoFar          atomic.Int64
	missingTablesLogged map[string]bool
}

// Next advances the iterator. It returns ok=false once the queue is
// exhausted; the caller must stop calling Next at that point (spec §9:
// non-restartable).
func (it *Iterator) Next(ctx context.Context) (KeyspaceRepairAssignments, bool, error) {
	if it.idx >= len(it.queue) {
		return KeyspaceRepairAssignments{}, false, nil
	}
	item := it.queue[it.idx]
	it.idx++

	// Step 1: schedule budget already exhausted -> empty sentinel.
	if it.cfg.MaxBytesPerSchedule != Unlimited && it.bytesSoFar.Load() >= it.cfg.MaxBytesPerSchedule {
		return KeyspaceRepairAssignments{PriorityBucket: item.priorityBucket, Keyspace: item.keyspace}, true, nil
	}

	produced, err := it.planKeyspace(ctx, item)
	if err != nil {
		level.Warn(it.s.logger()).Log("msg", "some tables failed to plan, continuing with the rest of the keyspace", "keyspace", item.keyspace, "err", err)
	}

	admitted, skippedBytes, skippedCount := it.admit(produced)
	if skippedCount > 0 {
		if it.t == Incremental {
			level.Info(it.s.logger()).Log("msg", "schedule budget reached, some assignments skipped", "keyspace", item.keyspace, "skipped_count", skippedCount, "skipped_bytes", skippedBytes)
		} else {
			level.Warn(it.s.logger()).Log("msg", "schedule did not cover the full primary range this cycle", "keyspace", item.keyspace, "skipped_count", skippedCount, "skipped_bytes", skippedBytes)
		}
		if it.s.Metrics != nil {
			it.s.Metrics.ObserveAssignmentsSkipped(it.t, skippedCount)
		}
	}

	return KeyspaceRepairAssignments{
		PriorityBucket: item.priorityBucket,
		Keyspace:       item.keyspace,
		Assignments:    admitted,
	}, true, nil
}

// planKeyspace implements spec §4.6 steps 2-4 for one keyspace.
func (it *Iterator) planKeyspace(ctx context.Context, item queueItem) ([]SizedRepairAssignment, error) {
	ranges, err := it.s.Ranges.RangesForKeyspace(ctx, item.keyspace, it.primaryRangeOnly, it.myHostID)
	if err != nil {
		return nil, fmt.Errorf("resolve ranges for keyspace %s: %w", item.keyspace, err)
	}

	var unwrapped []token.Range
	for _, r := range ranges {
		unwrapped = append(unwrapped, r.Unwrap()...)
	}

	it.s.rand().Shuffle(len(unwrapped), func(i, j int) { unwrapped[i], unwrapped[j] = unwrapped[j], unwrapped[i] })

	var produced []SizedRepairAssignment
	var planErrs *multierror.Error
	for _, r := range unwrapped {
		perTable := map[string][]SizedRepairAssignment{}
		for _, table := range item.tables {
			assignments, err := it.planTable(ctx, item.keyspace, table, r)
			if err != nil {
				// Per-table estimate failures don't abort the whole
				// keyspace (other tables and ranges may still be
				// planned); they're aggregated and surfaced once the
				// range is done, the same way m3db's repair flow
				// collects a MultiError across independent units of work
				// instead of failing the batch on the first error.
				planErrs = multierror.Append(planErrs, fmt.Errorf("%s.%s: %w", item.keyspace, table, err))
				continue
			}
			if assignments == nil {
				continue // table concurrently dropped; already logged once.
			}
			perTable[table] = assignments
		}
		produced = append(produced, it.batch(item.keyspace, r, item.tables, perTable)...)
	}
	return produced, planErrs.ErrorOrNil()
}

// planTable implements spec §4.6.1.
func (it *Iterator) planTable(ctx context.Context, keyspace, table string, r token.Range) ([]SizedRepairAssignment, error) {
	est, err := it.s.Oracle.Estimate(ctx, it.t, keyspace, table, r)
	if err == sizeoracle.ErrMissingTable {
		if !it.missingTablesLogged[keyspace+"."+table] {
			level.Warn(it.s.logger()).Log("msg", "table dropped during planning, skipping", "keyspace", keyspace, "table", table)
			it.missingTablesLogged[keyspace+"."+table] = true
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("estimate size for %s.%s: %w", keyspace, table, err)
	}

	sizeForRepair := est.SizeForRepair()
	if sizeForRepair == 0 {
		mem, err := it.s.Oracle.MemtableBytes(ctx, keyspace, table)
		if err != nil {
			return nil, fmt.Errorf("memtable bytes for %s.%s: %w", keyspace, table, err)
		}
		if mem == 0 {
			return []SizedRepairAssignment{{
				Range: r, Keyspace: keyspace, Tables: []string{table},
				Description: "zero-data full-range assignment", EstimatedBytes: 0,
			}}, nil
		}
		return []SizedRepairAssignment{{
			Range: r, Keyspace: keyspace, Tables: []string{table},
			Description: "memtable-only assignment (persisted data is zero)", EstimatedBytes: mem,
		}}, nil
	}

	needsSplit := sizeForRepair > it.cfg.BytesPerAssignment || est.Partitions > it.cfg.PartitionsPerAssignment
	if !needsSplit {
		return []SizedRepairAssignment{{
			Range: r, Keyspace: keyspace, Tables: []string{table},
			Description: "full-range assignment", EstimatedBytes: sizeForRepair,
		}}, nil
	}

	splitsForSize := ceilDivInt64(sizeForRepair, it.cfg.BytesPerAssignment)
	splitsForPartitions := ceilDivUint64(est.Partitions, it.cfg.PartitionsPerAssignment)
	splits := splitsForSize
	criterion := "size"
	if splitsForPartitions > splitsForSize {
		splits = splitsForPartitions
		criterion = "partitions"
	}

	subranges := r.Split(int(splits))
	if int64(len(subranges)) < splits {
		level.Warn(it.s.logger()).Log("msg", "partitioner splitter unavailable, falling back to a single range", "keyspace", keyspace, "table", table)
	}

	perBytes := sizeForRepair / int64(len(subranges))
	out := make([]SizedRepairAssignment, 0, len(subranges))
	for i, sr := range subranges {
		out = append(out, SizedRepairAssignment{
			Range: sr, Keyspace: keyspace, Tables: []string{table},
			Description:    fmt.Sprintf("split by %s (%d/%d)", criterion, i+1, len(subranges)),
			EstimatedBytes: perBytes,
		})
	}
	return out, nil
}

// batch implements spec §4.6.2's keyspace-batching for one range.
func (it *Iterator) batch(keyspace string, r token.Range, tableOrder []string, perTable map[string][]SizedRepairAssignment) []SizedRepairAssignment {
	var multi []SizedRepairAssignment
	var singles []string
	for _, table := range tableOrder {
		assignments, ok := perTable[table]
		if !ok {
			continue
		}
		if len(assignments) == 1 {
			singles = append(singles, table)
		} else {
			multi = append(multi, assignments...)
		}
	}

	if !it.repairByKeyspace || len(singles) == 0 {
		for _, table := range singles {
			multi = append(multi, perTable[table][0])
		}
		return multi
	}

	type sized struct {
		table string
		bytes int64
	}
	sizedSingles := make([]sized, 0, len(singles))
	for _, table := range singles {
		sizedSingles = append(sizedSingles, sized{table: table, bytes: perTable[table][0].EstimatedBytes})
	}
	sort.Slice(sizedSingles, func(i, j int) bool { return sizedSingles[i].bytes < sizedSingles[j].bytes })

	out := multi
	var currentBatch []sized
	var currentBytes int64
	flush := func() {
		if len(currentBatch) == 0 {
			return
		}
		if len(currentBatch) == 1 {
			out = append(out, perTable[currentBatch[0].table][0])
		} else {
			tables := make([]string, 0, len(currentBatch))
			for _, s := range currentBatch {
				tables = append(tables, s.table)
			}
			out = append(out, SizedRepairAssignment{
				Range: r, Keyspace: keyspace, Tables: tables,
				Description:    fmt.Sprintf("batched %d single-assignment tables", len(tables)),
				EstimatedBytes: currentBytes,
			})
		}
		currentBatch = nil
		currentBytes = 0
	}

	maxBytes := it.cfg.MaxBytesPerSchedule
	for _, s := range sizedSingles {
		fits := maxBytes == Unlimited || currentBytes+s.bytes < maxBytes
		if len(currentBatch) < it.cfg.MaxTablesPerAssignment && fits {
			currentBatch = append(currentBatch, s)
			currentBytes += s.bytes
			continue
		}
		flush()
		currentBatch = append(currentBatch, s)
		currentBytes = s.bytes
	}
	flush()

	return out
}

// admit implements spec §4.6.3's schedule-budget filter.
func (it *Iterator) admit(produced []SizedRepairAssignment) (admitted []SizedRepairAssignment, skippedBytes int64, skippedCount int) {
	for _, a := range produced {
		if it.cfg.MaxBytesPerSchedule != Unlimited && it.bytesSoFar.Load()+a.EstimatedBytes > it.cfg.MaxBytesPerSchedule {
			skippedBytes += a.EstimatedBytes
			skippedCount++
			continue
		}
		it.bytesSoFar.Add(a.EstimatedBytes)
		admitted = append(admitted, a)
	}
	return admitted, skippedBytes, skippedCount
}

// BytesSoFar exposes the cross-yield accumulator for progress reporting.
func (it *Iterator) BytesSoFar() int64 {
	return it.bytesSoFar.Load()
}

func ceilDivInt64(a, b int64) int64 {
	if b <= 0 {
		return 1
	}
	return (a + b - 1) / b
}

func ceilDivUint64(a, b uint64) int64 {
	if b == 0 {
		return 1
	}
	return int64((a + b - 1) / b)
}
