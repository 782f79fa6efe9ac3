package autorepair

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/topology"
	"github.com/cortexproject/cortex-autorepair/pkg/kv"
	ringpkg "github.com/cortexproject/cortex-autorepair/pkg/ring"
)

// RingView is the subset of pkg/ring.View the Arbitrator needs (spec §4.2).
type RingView interface {
	Hosts(ignoreDCs map[string]struct{}) []ringpkg.NodeAddress
	HasHost(id uuid.UUID) bool
}

// ReplicaChecker answers "does b replicate a's data" for the distinct
// replication strategies in play, per spec §4.4 step 9e. It is backed by
// pkg/autorepair/topology.Topology.
type ReplicaChecker interface {
	SharesReplica(a, b uuid.UUID, strategies []topology.Strategy) bool
}

// Clock is injected so tests can control "now" deterministically.
type Clock func() time.Time

// Arbitrator is the Turn Arbitrator from spec §4.4.
type Arbitrator struct {
	Store    kv.Store
	Ring     RingView
	Replicas ReplicaChecker
	Configs  map[RepairType]Config
	// Strategies returns the distinct replication strategies across the
	// keyspaces under consideration for t, per spec §4.4 step 9e.
	Strategies func(t RepairType) []topology.Strategy

	Clock   Clock
	Logger  log.Logger
	Metrics *Metrics

	// inFlight guards against overlapping ticks for the same RepairType on
	// this Arbitrator — e.g. a slow tick still talking to the store when
	// another goroutine calls TurnFor concurrently. A tick that finds one
	// already running for its type defers rather than racing the store.
	// Separate Arbitrator values (such as the one cmd/autorepair-ctl builds
	// in its own process) are not coordinated by it.
	inFlight sync.Map // RepairType -> *atomic.Bool
}

func (a *Arbitrator) guardFor(t RepairType) *atomic.Bool {
	v, _ := a.inFlight.LoadOrStore(t, atomic.NewBool(false))
	return v.(*atomic.Bool)
}

func (a *Arbitrator) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now()
}

// TurnFor is the Arbitrator's public contract (spec §4.4). Any error
// collapses the decision to NOT_MY_TURN and is logged, per spec.
func (a *Arbitrator) TurnFor(ctx context.Context, t RepairType, myHostID uuid.UUID) TurnDecision {
	guard := a.guardFor(t)
	if !guard.CompareAndSwap(false, true) {
		level.Debug(a.logger()).Log("msg", "tick already in flight for this repair type, deferring", "repair_type", t)
		return NotMyTurn
	}
	defer guard.Store(false)

	d, err := a.turnFor(ctx, t, myHostID)
	if err != nil {
		level.Error(a.logger()).Log("msg", "turn arbitration failed, defaulting to NOT_MY_TURN", "repair_type", t, "err", err)
		d = NotMyTurn
	}
	if a.Metrics != nil {
		a.Metrics.ObserveDecision(t, d)
	}
	return d
}

func (a *Arbitrator) logger() log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return log.NewNopLogger()
}

func (a *Arbitrator) turnFor(ctx context.Context, t RepairType, myHostID uuid.UUID) (TurnDecision, error) {
	cfg := a.Configs[t]
	now := a.now().UnixMilli()

	// Step 1: snapshot ring and histories.
	liveHosts := a.Ring.Hosts(cfg.IgnoreDCs)
	liveSet := make(map[uuid.UUID]struct{}, len(liveHosts))
	for _, h := range liveHosts {
		liveSet[h.HostID] = struct{}{}
	}

	histories, err := a.Store.SelectHistory(ctx, t)
	if err != nil {
		return NotMyTurn, fmt.Errorf("select history: %w", err)
	}

	// Step 2: delete-host bookkeeping. Failures here are logged and
	// skipped; they are independently retried next tick (spec §4.4).
	for _, h := range histories {
		if len(h.DeleteHosts) > 0 && now-h.DeleteHostsUpdateTs > cfg.ClearDeleteHostsBuffer.Milliseconds() {
			if err := a.Store.ClearDeleteVotes(ctx, t, h.HostID); err != nil {
				level.Warn(a.logger()).Log("msg", "failed to clear stale delete votes", "host", h.HostID, "err", err)
			}
			continue
		}

		if _, alive := liveSet[h.HostID]; alive {
			continue
		}

		threshold := deleteVoteThreshold(len(liveHosts))
		if len(h.DeleteHosts) >= threshold {
			if err := a.Store.DeleteHistory(ctx, t, h.HostID); err != nil {
				level.Warn(a.logger()).Log("msg", "failed to delete evicted history row", "host", h.HostID, "err", err)
			}
		} else {
			if err := a.Store.AddDeleteVote(ctx, t, h.HostID, myHostID, now); err != nil {
				level.Warn(a.logger()).Log("msg", "failed to add delete vote", "host", h.HostID, "err", err)
			}
		}
	}

	// Step 3: insert rows for newly seen hosts.
	knownHosts := make(map[uuid.UUID]struct{}, len(histories))
	for _, h := range histories {
		knownHosts[h.HostID] = struct{}{}
	}
	for _, host := range liveHosts {
		if _, ok := knownHosts[host.HostID]; ok {
			continue
		}
		if err := a.Store.InsertHistoryIfAbsent(ctx, t, host.HostID, now, now); err != nil {
			level.Warn(a.logger()).Log("msg", "failed to insert history for new host", "host", host.HostID, "err", err)
		}
	}

	// Step 4: re-read and classify.
	histories, err = a.Store.SelectHistory(ctx, t)
	if err != nil {
		return NotMyTurn, fmt.Errorf("re-select history: %w", err)
	}
	running, forcedRunning, finished := classify(histories)
	myHistory, haveMine := findHost(histories, myHostID)

	// Step 5: force-repair check.
	if haveMine && myHistory.ForceRepair && containsHost(finished, myHostID) {
		return MyTurnForceRepair, nil
	}

	// Step 6: resumption check.
	if containsHost(running, myHostID) || containsHost(forcedRunning, myHostID) {
		if haveMine && myHistory.RepairTurn != "" {
			return ParseTurnDecision(myHistory.RepairTurn), nil
		}
		return MyTurn, nil
	}

	// Step 7: parallelism gate.
	parallelLimit := cfg.ParallelLimit(len(histories))
	if len(running) >= parallelLimit {
		if a.Metrics != nil {
			a.Metrics.ObserveDelayedBySchedule(t)
		}
		return NotMyTurn, nil
	}

	// Step 8: priority override.
	priorities, err := a.Store.SelectPriorities(ctx, t)
	if err != nil {
		return NotMyTurn, fmt.Errorf("select priorities: %w", err)
	}
	var remaining []uuid.UUID
	for _, p := range priorities {
		if _, alive := liveSet[p]; alive {
			remaining = append(remaining, p)
		} else if err := a.Store.RemovePriority(ctx, t, p); err != nil {
			level.Warn(a.logger()).Log("msg", "failed to purge priority entry for departed host", "host", p, "err", err)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return compareHostID(remaining[i], remaining[j]) < 0 })

	if len(remaining) > 0 {
		head := remaining[0]
		if head != myHostID {
			return NotMyTurn, nil
		}
		return MyTurnDueToPriority, nil
	}

	// Step 9: eligibility.
	eligible, crossScheduleDeferred, err := a.eligibleHost(ctx, t, cfg, myHostID, running, forcedRunning, finished)
	if err != nil {
		return NotMyTurn, fmt.Errorf("eligibility: %w", err)
	}
	if crossScheduleDeferred {
		if a.Metrics != nil {
			a.Metrics.ObserveDelayedByReplica(t)
		}
		return NotMyTurn, nil
	}

	// Step 10.
	if eligible == myHostID {
		return MyTurn, nil
	}
	return NotMyTurn, nil
}

// deleteVoteThreshold returns max(2, ceil(0.5*|ring|)); a departed host's
// row is deleted once its delete-vote count reaches this value.
func deleteVoteThreshold(ringSize int) int {
	half := ringSize / 2
	if ringSize%2 != 0 {
		half++
	}
	if half > 2 {
		return half
	}
	return 2
}

func containsHost(rows []kv.HistoryRow, host uuid.UUID) bool {
	for _, r := range rows {
		if r.HostID == host {
			return true
		}
	}
	return false
}

func sortByFinishThenHost(rows []kv.HistoryRow) []kv.HistoryRow {
	out := make([]kv.HistoryRow, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool {
		if out[i].RepairFinishTs != out[j].RepairFinishTs {
			return out[i].RepairFinishTs < out[j].RepairFinishTs
		}
		return compareHostID(out[i].HostID, out[j].HostID) < 0
	})
	return out
}

// eligibleHost implements spec §4.4 step 9. The second return value is true
// iff myHostID must defer because it is busy under a different schedule
// (step 9d).
func (a *Arbitrator) eligibleHost(
	ctx context.Context,
	t RepairType,
	cfg Config,
	myHostID uuid.UUID,
	running, forcedRunning, finished []kv.HistoryRow,
) (uuid.UUID, bool, error) {
	if cfg.AllowParallelReplicaRepair {
		if len(finished) == 0 {
			return uuid.Nil, false, nil
		}
		sorted := sortByFinishThenHost(finished)
		return sorted[0].HostID, false, nil
	}

	sorted := sortByFinishThenHost(finished)

	// Truncate at my own position (inclusive): repairs more recent than
	// mine are not my concern.
	myIdx := -1
	for i, h := range sorted {
		if h.HostID == myHostID {
			myIdx = i
			break
		}
	}
	if myIdx >= 0 {
		sorted = sorted[:myIdx+1]
	}

	// Build busyHosts -> schedule it's busy under.
	busyHosts := map[uuid.UUID]RepairType{}
	for _, h := range running {
		busyHosts[h.HostID] = t
	}
	for _, h := range forcedRunning {
		busyHosts[h.HostID] = t
	}

	if !cfg.AllowParallelReplicaRepairAcrossSchedules {
		for other := range a.Configs {
			if other == t {
				continue
			}
			otherCfg := a.Configs[other]
			if !otherCfg.Enabled {
				continue
			}
			otherHistories, err := a.Store.SelectHistory(ctx, other)
			if err != nil {
				return uuid.Nil, false, fmt.Errorf("select history for cross-schedule check (%s): %w", other, err)
			}
			otherRunning, otherForced, _ := classify(otherHistories)
			for _, h := range otherRunning {
				if _, exists := busyHosts[h.HostID]; !exists {
					busyHosts[h.HostID] = other
				}
			}
			for _, h := range otherForced {
				if _, exists := busyHosts[h.HostID]; !exists {
					busyHosts[h.HostID] = other
				}
			}
		}
	}

	// Step 9d: cross-schedule deferral.
	if schedule, busy := busyHosts[myHostID]; busy && schedule != t {
		return uuid.Nil, true, nil
	}

	// Step 9e: replica-overlap exclusion.
	var strategies []topology.Strategy
	if a.Strategies != nil {
		strategies = a.Strategies(t)
	}

	for _, candidate := range sorted {
		excluded := false
		if a.Replicas != nil {
			for busy := range busyHosts {
				if busy == candidate.HostID {
					continue
				}
				if a.Replicas.SharesReplica(candidate.HostID, busy, strategies) {
					excluded = true
					break
				}
			}
		}
		if !excluded {
			return candidate.HostID, false, nil
		}
	}

	return uuid.Nil, false, nil
}
