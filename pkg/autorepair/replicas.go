package autorepair

import (
	"github.com/google/uuid"

	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/topology"
)

// TopologyReplicaChecker adapts a topology.Topology into the ReplicaChecker
// the Arbitrator's eligibility step needs (spec §4.4 step 9e): two hosts
// "share a replica" if any token range one of them owns under a strategy is
// also replicated to the other.
type TopologyReplicaChecker struct {
	Topology topology.Topology
}

func (c TopologyReplicaChecker) SharesReplica(a, b uuid.UUID, strategies []topology.Strategy) bool {
	if c.Topology == nil {
		return false
	}
	for _, strategy := range strategies {
		for _, rg := range c.Topology.ReplicasOf(strategy, topology.Endpoint{HostID: a}) {
			for _, ep := range c.Topology.EndpointsForRange(strategy, rg) {
				if ep.HostID == b {
					return true
				}
			}
		}
	}
	return false
}
