package autorepair

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cortexproject/cortex-autorepair/pkg/kv"
)

// RecordStart implements the Start half of spec §4.5's protocol: invoked
// exactly once by the executor before running repair, under the turn
// decision's serialized reason. It also removes host's priority entry via
// AdvancePriority.
func RecordStart(ctx context.Context, store kv.Store, t RepairType, host uuid.UUID, now int64, turn TurnDecision) error {
	if err := store.UpdateStart(ctx, t, host, now, turn.String()); err != nil {
		return fmt.Errorf("record start for %s/%s: %w", t, host, err)
	}
	return AdvancePriority(ctx, store, t, host)
}

// RecordFinish implements the Finish half of spec §4.5: invoked exactly
// once on completion (success or failure), which also clears forceRepair
// (spec §3 invariant: forceRepair is cleared atomically with finish).
func RecordFinish(ctx context.Context, store kv.Store, t RepairType, host uuid.UUID, now int64) error {
	if err := store.UpdateFinish(ctx, t, host, now); err != nil {
		return fmt.Errorf("record finish for %s/%s: %w", t, host, err)
	}
	return nil
}

// AdvancePriority removes the priority entry for host; RecordStart calls it,
// so removal happens exactly at the entry's host's start, resolving spec §9's "open question: priority fairness" the
// way the spec itself directs rather than guessing.
func AdvancePriority(ctx context.Context, store kv.Store, t RepairType, host uuid.UUID) error {
	if err := store.RemovePriority(ctx, t, host); err != nil {
		return fmt.Errorf("advance priority for %s/%s: %w", t, host, err)
	}
	return nil
}
