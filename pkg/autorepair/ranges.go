package autorepair

import (
	"context"

	"github.com/google/uuid"

	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/token"
	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/topology"
)

// TopologyRangeSource adapts a topology.Topology into the Splitter's
// RangeSource (spec §4.6 step 2): primaryRangeOnly asks for the ranges a
// node is the first replica of; otherwise every range replicated to it.
type TopologyRangeSource struct {
	Topology topology.Topology
	// StrategyFor resolves the replication strategy for a keyspace, so the
	// same keyspace repaired under different strategies over its lifetime
	// still plans against current topology.
	StrategyFor func(keyspace string) topology.Strategy
}

func (rs TopologyRangeSource) RangesForKeyspace(ctx context.Context, keyspace string, primaryRangeOnly bool, myHostID uuid.UUID) ([]token.Range, error) {
	strategy := topology.Strategy{}
	if rs.StrategyFor != nil {
		strategy = rs.StrategyFor(keyspace)
	}

	if primaryRangeOnly {
		return rs.Topology.ReplicasOf(strategy, topology.Endpoint{HostID: myHostID}), nil
	}

	var out []token.Range
	for _, r := range rs.Topology.AllRanges() {
		for _, ep := range rs.Topology.EndpointsForRange(strategy, r) {
			if ep.HostID == myHostID {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}
