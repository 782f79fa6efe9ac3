// Package topology models replication strategies and the range/endpoint
// mappings the Turn Arbitrator and Assignment Splitter need (spec §4.2).
// Per spec §9's design note on "dynamic downcasts", a replication strategy
// is represented as a tagged variant with a capability set rather than a
// type hierarchy requiring runtime type assertions.
package topology

import (
	"sort"

	"github.com/google/uuid"

	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/token"
)

// Kind tags the recognized replication strategies.
type Kind int

const (
	// SimpleStrategy replicates without datacenter awareness.
	SimpleStrategy Kind = iota
	// NetworkTopologyStrategy is datacenter/rack aware.
	NetworkTopologyStrategy
	// LocalStrategy is the single-node meta/system keyspace strategy,
	// never considered for repair (spec §4.2).
	LocalStrategy
)

// Strategy is the tagged-variant capability set spec §9 asks for in place
// of downcasting: isTopologyAware, includesDatacenter(dc), localOnly.
type Strategy struct {
	Kind           Kind
	Datacenters    map[string]int // datacenter -> replication factor, NetworkTopologyStrategy only
	ReplicationFac int            // SimpleStrategy only
}

func (s Strategy) IsTopologyAware() bool {
	return s.Kind == NetworkTopologyStrategy
}

func (s Strategy) IncludesDatacenter(dc string) bool {
	if s.Kind != NetworkTopologyStrategy {
		return true
	}
	_, ok := s.Datacenters[dc]
	return ok
}

func (s Strategy) LocalOnly() bool {
	return s.Kind == LocalStrategy
}

// Endpoint is a replica-bearing node, keyed by its HostID for replica-set
// comparisons in the Arbitrator's eligibility step (spec §4.4 step 9e).
type Endpoint struct {
	HostID     uuid.UUID
	Datacenter string
}

// Topology answers the "replicasOf" / "endpointsForRange" queries spec §4.2
// requires, given a strategy and the current ring ownership.
type Topology interface {
	// ReplicasOf returns the token ranges owned by endpoint under strategy.
	ReplicasOf(strategy Strategy, endpoint Endpoint) []token.Range
	// EndpointsForRange returns the endpoints that replicate range under
	// strategy.
	EndpointsForRange(strategy Strategy, r token.Range) []Endpoint
	// AllRanges returns every primary-owned range in the ring, the basis for
	// computing a node's "local" (not just primary) ranges in the Splitter
	// (spec §4.6 step 2).
	AllRanges() []token.Range
}

// ringTopology is an in-memory topology computed from a sorted token
// assignment, the same primary-range arithmetic cortex's ring.go uses
// (countTokens/tokenDistance) but expressed over full ranges rather than a
// single token distance accumulator.
type ringTopology struct {
	// tokens maps a sorted token to the endpoint owning it (first replica).
	sortedTokens []uint32
	ownerOf      map[uint32]Endpoint
	replFactor   int
}

// NewRingTopology builds a Topology from a set of (token, endpoint) pairs,
// the same shape cortex's Desc.getTokensInfo() produces.
func NewRingTopology(ownerOf map[uint32]Endpoint, replicationFactor int) Topology {
	tokens := make([]uint32, 0, len(ownerOf))
	for t := range ownerOf {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	return &ringTopology{
		sortedTokens: tokens,
		ownerOf:      ownerOf,
		replFactor:   replicationFactor,
	}
}

func (r *ringTopology) ReplicasOf(strategy Strategy, endpoint Endpoint) []token.Range {
	var out []token.Range
	n := len(r.sortedTokens)
	if n == 0 {
		return out
	}

	for i, t := range r.sortedTokens {
		owner := r.ownerOf[t]
		if owner.HostID != endpoint.HostID {
			continue
		}
		lo := t
		hi := r.sortedTokens[(i+1)%n]
		out = append(out, token.Range{Start: lo, End: hi})
	}
	return out
}

func (r *ringTopology) EndpointsForRange(strategy Strategy, rg token.Range) []Endpoint {
	n := len(r.sortedTokens)
	if n == 0 {
		return nil
	}

	rf := r.replicationFactorFor(strategy)

	start := sort.Search(n, func(i int) bool { return r.sortedTokens[i] >= rg.Start })

	seen := map[uuid.UUID]struct{}{}
	dcCount := map[string]int{}
	var out []Endpoint

	for i := 0; i < n && len(out) < rf; i++ {
		idx := (start + i) % n
		owner := r.ownerOf[r.sortedTokens[idx]]

		if _, dup := seen[owner.HostID]; dup {
			continue
		}

		if strategy.IsTopologyAware() {
			max := strategy.Datacenters[owner.Datacenter]
			if max == 0 {
				continue
			}
			if dcCount[owner.Datacenter] >= max {
				continue
			}
			dcCount[owner.Datacenter]++
		}

		seen[owner.HostID] = struct{}{}
		out = append(out, owner)
	}

	return out
}

func (r *ringTopology) AllRanges() []token.Range {
	n := len(r.sortedTokens)
	out := make([]token.Range, 0, n)
	for i, t := range r.sortedTokens {
		out = append(out, token.Range{Start: t, End: r.sortedTokens[(i+1)%n]})
	}
	return out
}

func (r *ringTopology) replicationFactorFor(strategy Strategy) int {
	switch strategy.Kind {
	case NetworkTopologyStrategy:
		total := 0
		for _, rf := range strategy.Datacenters {
			total += rf
		}
		if total > 0 {
			return total
		}
	case SimpleStrategy:
		if strategy.ReplicationFac > 0 {
			return strategy.ReplicationFac
		}
	}
	return r.replFactor
}

// EligibleForRepair implements spec §4.2's keyspace eligibility rule: not the
// meta/local singleton strategy, topology-aware replication must include the
// local DC, and it is not the trace keyspace.
func EligibleForRepair(keyspace string, strategy Strategy, localDC string) bool {
	if strategy.LocalOnly() {
		return false
	}
	if keyspace == "system_traces" {
		return false
	}
	if strategy.IsTopologyAware() && !strategy.IncludesDatacenter(localDC) {
		return false
	}
	return true
}
