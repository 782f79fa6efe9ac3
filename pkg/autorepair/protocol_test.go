package autorepair

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexproject/cortex-autorepair/pkg/kv"
)

func TestRecordStartThenFinish_RoundTrip(t *testing.T) {
	store := newFakeStore()
	host := fixedHostIDs(1)[0]
	ctx := context.Background()

	require.NoError(t, RecordStart(ctx, store, Full, host, 100, MyTurnDueToPriority))
	require.NoError(t, RecordFinish(ctx, store, Full, host, 200))

	rows, err := store.SelectHistory(ctx, Full)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	require.Equal(t, int64(100), row.RepairStartTs)
	require.Equal(t, int64(200), row.RepairFinishTs)
	require.False(t, row.ForceRepair, "finish always clears force_repair")
	require.Equal(t, "MY_TURN_DUE_TO_PRIORITY", row.RepairTurn)
	require.False(t, row.IsRunning())
}

func TestRecordFinish_ClearsForceRepair(t *testing.T) {
	store := newFakeStore()
	host := fixedHostIDs(1)[0]
	ctx := context.Background()
	store.rows(Full)[host] = kv.HistoryRow{RepairType: Full, HostID: host, RepairStartTs: 100, ForceRepair: true}

	require.NoError(t, RecordFinish(ctx, store, Full, host, 50))
	row := store.rows(Full)[host]
	require.False(t, row.ForceRepair)
}
