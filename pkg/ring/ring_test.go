package ring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func idFor(b byte) uuid.UUID {
	var id uuid.UUID
	id[len(id)-1] = b
	return id
}

func viewWithMembers(members map[uuid.UUID]NodeAddress) *View {
	return &View{members: members}
}

func TestView_Hosts_FiltersDeadAndIgnoredDCs(t *testing.T) {
	alive := idFor(1)
	dead := idFor(2)
	otherDC := idFor(3)

	v := viewWithMembers(map[uuid.UUID]NodeAddress{
		alive:   {HostID: alive, Datacenter: "dc1", AliveInGossip: true},
		dead:    {HostID: dead, Datacenter: "dc1", AliveInGossip: false},
		otherDC: {HostID: otherDC, Datacenter: "dc2", AliveInGossip: true},
	})

	got := v.Hosts(map[string]struct{}{"dc2": {}})
	require.Len(t, got, 1)
	require.Equal(t, alive, got[0].HostID)
}

func TestView_Hosts_NoFilterReturnsAllAlive(t *testing.T) {
	a, b := idFor(1), idFor(2)
	v := viewWithMembers(map[uuid.UUID]NodeAddress{
		a: {HostID: a, Datacenter: "dc1", AliveInGossip: true},
		b: {HostID: b, Datacenter: "dc2", AliveInGossip: true},
	})

	got := v.Hosts(nil)
	require.Len(t, got, 2)
}

func TestView_HasHost(t *testing.T) {
	alive := idFor(1)
	dead := idFor(2)
	v := viewWithMembers(map[uuid.UUID]NodeAddress{
		alive: {HostID: alive, AliveInGossip: true},
		dead:  {HostID: dead, AliveInGossip: false},
	})

	require.True(t, v.HasHost(alive))
	require.False(t, v.HasHost(dead), "a member present but not currently alive in gossip doesn't count")
	require.False(t, v.HasHost(idFor(3)), "an unknown host doesn't count")
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	require.NotZero(t, cfg.GossipExpiry)
}
