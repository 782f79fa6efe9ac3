package autorepair

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_CallsOnMyTurnForEligibleHost(t *testing.T) {
	ids := fixedHostIDs(2)
	a, b := ids[0], ids[1]

	store := newFakeStore()
	ring := &fakeRing{hosts: map[uuid.UUID]string{a: "dc1", b: "dc1"}}
	arb := &Arbitrator{
		Store:   store,
		Ring:    ring,
		Configs: map[RepairType]Config{Full: {Enabled: true, ParallelRepairCount: 1}},
		Clock:   testClock(1000),
		Metrics: NewMetrics(prometheus.NewRegistry()),
	}

	var calls int32
	var mu sync.Mutex
	var decisions []TurnDecision

	coord := NewCoordinator(arb, a, 5*time.Millisecond, nil, NewMetrics(prometheus.NewRegistry()),
		func(ctx context.Context, t RepairType, d TurnDecision) {
			atomic.AddInt32(&calls, 1)
			mu.Lock()
			decisions = append(decisions, d)
			mu.Unlock()
		})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, coord.StartAsync(ctx))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) > 0
	}, 150*time.Millisecond, 5*time.Millisecond)

	cancel()
	require.NoError(t, coord.AwaitTerminated(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	for _, d := range decisions {
		require.Equal(t, MyTurn, d)
	}
}

func TestCoordinator_SkipsDisabledRepairTypes(t *testing.T) {
	ids := fixedHostIDs(1)
	a := ids[0]

	store := newFakeStore()
	ring := &fakeRing{hosts: map[uuid.UUID]string{a: "dc1"}}
	arb := &Arbitrator{
		Store: store,
		Ring:  ring,
		Configs: map[RepairType]Config{
			Full:        {Enabled: false, ParallelRepairCount: 1},
			Incremental: {Enabled: true, ParallelRepairCount: 1},
		},
		Clock:   testClock(1000),
		Metrics: NewMetrics(prometheus.NewRegistry()),
	}

	var seen sync.Map
	coord := NewCoordinator(arb, a, 5*time.Millisecond, nil, NewMetrics(prometheus.NewRegistry()),
		func(ctx context.Context, t RepairType, d TurnDecision) {
			seen.Store(t, true)
		})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, coord.StartAsync(ctx))

	require.Eventually(t, func() bool {
		_, ok := seen.Load(Incremental)
		return ok
	}, 80*time.Millisecond, 5*time.Millisecond)

	cancel()
	require.NoError(t, coord.AwaitTerminated(context.Background()))

	_, sawFull := seen.Load(Full)
	require.False(t, sawFull, "FULL is disabled and must never tick")
}
