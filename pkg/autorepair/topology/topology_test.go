package topology

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/token"
)

func idFor(b byte) uuid.UUID {
	var id uuid.UUID
	id[len(id)-1] = b
	return id
}

func fourNodeRing() (Topology, []Endpoint) {
	endpoints := []Endpoint{
		{HostID: idFor(1), Datacenter: "dc1"},
		{HostID: idFor(2), Datacenter: "dc1"},
		{HostID: idFor(3), Datacenter: "dc2"},
		{HostID: idFor(4), Datacenter: "dc2"},
	}
	owners := map[uint32]Endpoint{
		0:  endpoints[0],
		10: endpoints[1],
		20: endpoints[2],
		30: endpoints[3],
	}
	return NewRingTopology(owners, 3), endpoints
}

func TestRingTopology_ReplicasOf(t *testing.T) {
	topo, endpoints := fourNodeRing()
	ranges := topo.ReplicasOf(Strategy{Kind: SimpleStrategy, ReplicationFac: 3}, endpoints[0])
	require.Equal(t, []token.Range{{Start: 0, End: 10}}, ranges)
}

func TestRingTopology_EndpointsForRange_Simple(t *testing.T) {
	topo, endpoints := fourNodeRing()
	strategy := Strategy{Kind: SimpleStrategy, ReplicationFac: 3}
	got := topo.EndpointsForRange(strategy, token.Range{Start: 0, End: 10})
	require.Len(t, got, 3)
	require.Equal(t, []Endpoint{endpoints[0], endpoints[1], endpoints[2]}, got)
}

func TestRingTopology_EndpointsForRange_NetworkTopologyStopsAtDCCaps(t *testing.T) {
	topo, endpoints := fourNodeRing()
	strategy := Strategy{Kind: NetworkTopologyStrategy, Datacenters: map[string]int{"dc1": 1, "dc2": 1}}
	got := topo.EndpointsForRange(strategy, token.Range{Start: 0, End: 10})
	require.Len(t, got, 2)
	require.Equal(t, "dc1", got[0].Datacenter)
	require.Equal(t, "dc2", got[1].Datacenter)
}

func TestRingTopology_AllRanges_CoversWholeRing(t *testing.T) {
	topo, _ := fourNodeRing()
	ranges := topo.AllRanges()
	require.Len(t, ranges, 4)
	require.Equal(t, token.Range{Start: 30, End: 0}, ranges[3], "last range wraps back to the first token")
}

func TestStrategy_Capabilities(t *testing.T) {
	simple := Strategy{Kind: SimpleStrategy, ReplicationFac: 3}
	require.False(t, simple.IsTopologyAware())
	require.True(t, simple.IncludesDatacenter("anything"))
	require.False(t, simple.LocalOnly())

	ntw := Strategy{Kind: NetworkTopologyStrategy, Datacenters: map[string]int{"dc1": 3}}
	require.True(t, ntw.IsTopologyAware())
	require.True(t, ntw.IncludesDatacenter("dc1"))
	require.False(t, ntw.IncludesDatacenter("dc2"))

	local := Strategy{Kind: LocalStrategy}
	require.True(t, local.LocalOnly())
}

func TestEligibleForRepair(t *testing.T) {
	require.False(t, EligibleForRepair("system", Strategy{Kind: LocalStrategy}, "dc1"))
	require.False(t, EligibleForRepair("system_traces", Strategy{Kind: SimpleStrategy, ReplicationFac: 3}, "dc1"))

	ntw := Strategy{Kind: NetworkTopologyStrategy, Datacenters: map[string]int{"dc2": 3}}
	require.False(t, EligibleForRepair("myks", ntw, "dc1"))
	require.True(t, EligibleForRepair("myks", ntw, "dc2"))

	require.True(t, EligibleForRepair("myks", Strategy{Kind: SimpleStrategy, ReplicationFac: 3}, "dc1"))
}
