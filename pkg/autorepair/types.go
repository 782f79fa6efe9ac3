// Package autorepair implements the Turn Arbitration and Assignment
// Planning subsystems of the distributed auto-repair coordinator (spec §1).
// The decision core is a pure function of snapshots, per spec §9's
// state-machine design note: all I/O (store, ring, size estimation) is
// isolated at the edges behind the interfaces in pkg/kv, pkg/ring, and
// pkg/autorepair/{topology,sizeoracle}.
package autorepair

import (
	"github.com/google/uuid"

	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/token"
	"github.com/cortexproject/cortex-autorepair/pkg/kv"
)

// RepairType re-exported from pkg/kv so callers of this package don't need
// to import both.
type RepairType = kv.RepairType

const (
	Full            = kv.Full
	Incremental     = kv.Incremental
	PreviewRepaired = kv.PreviewRepaired
)

// HostID is the opaque 128-bit ring-member identifier from spec §3.
type HostID = uuid.UUID

// TurnDecision is the Turn Arbitrator's output (spec §4.4).
type TurnDecision int

const (
	NotMyTurn TurnDecision = iota
	MyTurn
	MyTurnDueToPriority
	MyTurnForceRepair
)

func (d TurnDecision) String() string {
	switch d {
	case MyTurn:
		return "MY_TURN"
	case MyTurnDueToPriority:
		return "MY_TURN_DUE_TO_PRIORITY"
	case MyTurnForceRepair:
		return "MY_TURN_FORCE_REPAIR"
	default:
		return "NOT_MY_TURN"
	}
}

// IsMyTurn reports whether d is any "go ahead" variant.
func (d TurnDecision) IsMyTurn() bool {
	return d == MyTurn || d == MyTurnDueToPriority || d == MyTurnForceRepair
}

// ParseTurnDecision parses the serialized repair_turn column back into a
// TurnDecision (spec §3: repairTurn is a "serialized enum of last turn
// reason").
func ParseTurnDecision(s string) TurnDecision {
	switch s {
	case "MY_TURN":
		return MyTurn
	case "MY_TURN_DUE_TO_PRIORITY":
		return MyTurnDueToPriority
	case "MY_TURN_FORCE_REPAIR":
		return MyTurnForceRepair
	default:
		return NotMyTurn
	}
}

// SizeEstimate is spec §3's SizeEstimate, a separate type with the same
// fields as sizeoracle.Estimate; the Splitter itself works with
// sizeoracle.Estimate.
type SizeEstimate struct {
	RepairType  RepairType
	Keyspace    string
	Table       string
	Range       token.Range
	Partitions  uint64
	SizeInRange int64
	TotalSize   int64
}

func (e SizeEstimate) SizeForRepair() int64 {
	if e.RepairType == Incremental {
		return e.TotalSize
	}
	return e.SizeInRange
}

// SizedRepairAssignment is spec §3's SizedRepairAssignment.
type SizedRepairAssignment struct {
	Range          token.Range
	Keyspace       string
	Tables         []string
	Description    string
	EstimatedBytes int64
}

// KeyspaceRepairAssignments is spec §3's KeyspaceRepairAssignments. An empty
// Assignments slice is a meaningful sentinel (spec §3), never treated as
// "no data available."
type KeyspaceRepairAssignments struct {
	PriorityBucket int
	Keyspace       string
	Assignments    []SizedRepairAssignment
}
