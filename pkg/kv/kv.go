// Package kv defines the persisted state store contract required by the
// auto-repair coordinator (spec §4.1): quorum reads, CAS insert-if-absent,
// idempotent start/finish writes, and commutative set-union/set-remove vote
// columns. It is modeled on cortex's pkg/ring/kv.Client, which ring.go
// consumes through kv.NewClient/kv.Config without depending on any concrete
// backend.
package kv

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Consistency mirrors the tunable levels spec §6 requires: LOCAL_QUORUM when
// replication is topology-aware, ONE otherwise, and LOCAL_SERIAL for
// lightweight transactions (insert-if-absent).
type Consistency int

const (
	One Consistency = iota
	LocalQuorum
	LocalSerial
)

// RepairType tags independent scheduling state (spec §3).
type RepairType string

const (
	Full             RepairType = "FULL"
	Incremental      RepairType = "INCREMENTAL"
	PreviewRepaired  RepairType = "PREVIEW_REPAIRED"
)

// HistoryRow is the logical row of auto_repair_history (spec §6).
type HistoryRow struct {
	RepairType          RepairType
	HostID              uuid.UUID
	RepairStartTs       int64
	RepairFinishTs      int64
	DeleteHosts         map[uuid.UUID]struct{}
	DeleteHostsUpdateTs int64
	RepairTurn          string
	ForceRepair         bool
}

// IsRunning implements the spec §3 invariant: a record is running iff its
// start timestamp is strictly after its finish timestamp.
func (h HistoryRow) IsRunning() bool {
	return h.RepairStartTs > h.RepairFinishTs
}

// Store is the persisted state store contract from spec §4.1.
type Store interface {
	SelectHistory(ctx context.Context, t RepairType) ([]HistoryRow, error)
	InsertHistoryIfAbsent(ctx context.Context, t RepairType, host uuid.UUID, start, finish int64) error
	UpdateStart(ctx context.Context, t RepairType, host uuid.UUID, ts int64, turn string) error
	UpdateFinish(ctx context.Context, t RepairType, host uuid.UUID, ts int64) error
	AddDeleteVote(ctx context.Context, t RepairType, host, voter uuid.UUID, now int64) error
	ClearDeleteVotes(ctx context.Context, t RepairType, host uuid.UUID) error
	DeleteHistory(ctx context.Context, t RepairType, host uuid.UUID) error

	SelectPriorities(ctx context.Context, t RepairType) ([]uuid.UUID, error)
	AddPriority(ctx context.Context, t RepairType, hosts []uuid.UUID) error
	RemovePriority(ctx context.Context, t RepairType, host uuid.UUID) error

	// LastUpdateTime returns when a history-table read or write for t last
	// succeeded, used the same way cortex's kv.Client.LastUpdateTime feeds
	// ring health checks.
	LastUpdateTime(t RepairType) time.Time
}
