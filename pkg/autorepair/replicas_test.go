package autorepair

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/topology"
)

func threeNodeTopology(ids []HostID) topology.Topology {
	owners := map[uint32]topology.Endpoint{
		0:  {HostID: ids[0], Datacenter: "dc1"},
		10: {HostID: ids[1], Datacenter: "dc1"},
		20: {HostID: ids[2], Datacenter: "dc1"},
	}
	return topology.NewRingTopology(owners, 3)
}

func TestTopologyReplicaChecker_SharesReplica(t *testing.T) {
	ids := fixedHostIDs(3)
	topo := threeNodeTopology(ids)
	checker := TopologyReplicaChecker{Topology: topo}
	strategies := []topology.Strategy{{Kind: topology.SimpleStrategy, ReplicationFac: 3}}

	// RF=3 over 3 nodes: every range replicates to every node.
	require.True(t, checker.SharesReplica(ids[0], ids[1], strategies))
	require.True(t, checker.SharesReplica(ids[0], ids[2], strategies))
}

func TestTopologyReplicaChecker_NoTopologyMeansNoOverlap(t *testing.T) {
	ids := fixedHostIDs(2)
	checker := TopologyReplicaChecker{}
	require.False(t, checker.SharesReplica(ids[0], ids[1], nil))
}

func TestTopologyReplicaChecker_DisjointStrategyExcludesOthers(t *testing.T) {
	ids := fixedHostIDs(3)
	topo := threeNodeTopology(ids)
	checker := TopologyReplicaChecker{Topology: topo}
	// RF=1: each range replicates only to its owner, so distinct owners of
	// distinct ranges never share a replica.
	strategies := []topology.Strategy{{Kind: topology.SimpleStrategy, ReplicationFac: 1}}
	require.False(t, checker.SharesReplica(ids[0], ids[1], strategies))
}
