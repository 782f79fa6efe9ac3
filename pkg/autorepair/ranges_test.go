package autorepair

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/token"
	"github.com/cortexproject/cortex-autorepair/pkg/autorepair/topology"
)

func TestTopologyRangeSource_PrimaryRangeOnly(t *testing.T) {
	ids := fixedHostIDs(3)
	topo := threeNodeTopology(ids)
	src := TopologyRangeSource{
		Topology:    topo,
		StrategyFor: func(string) topology.Strategy { return topology.Strategy{Kind: topology.SimpleStrategy, ReplicationFac: 3} },
	}

	ranges, err := src.RangesForKeyspace(context.Background(), "myks", true, ids[0])
	require.NoError(t, err)
	require.Equal(t, []token.Range{{Start: 0, End: 10}}, ranges)
}

func TestTopologyRangeSource_AllLocalRanges(t *testing.T) {
	ids := fixedHostIDs(3)
	topo := threeNodeTopology(ids)
	src := TopologyRangeSource{
		Topology:    topo,
		StrategyFor: func(string) topology.Strategy { return topology.Strategy{Kind: topology.SimpleStrategy, ReplicationFac: 3} },
	}

	// RF=3 over 3 nodes: every node replicates every range.
	ranges, err := src.RangesForKeyspace(context.Background(), "myks", false, ids[0])
	require.NoError(t, err)
	require.Len(t, ranges, 3)
}

func TestTopologyRangeSource_DefaultStrategyWhenUnset(t *testing.T) {
	ids := fixedHostIDs(3)
	topo := threeNodeTopology(ids)
	src := TopologyRangeSource{Topology: topo}

	ranges, err := src.RangesForKeyspace(context.Background(), "myks", true, ids[1])
	require.NoError(t, err)
	require.Equal(t, []token.Range{{Start: 10, End: 20}}, ranges)
}
