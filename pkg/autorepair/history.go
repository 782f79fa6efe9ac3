package autorepair

import (
	"github.com/google/uuid"

	"github.com/cortexproject/cortex-autorepair/pkg/kv"
)

// classify partitions histories into running / forcedRunning / finished,
// per spec §4.4 step 4.
func classify(histories []kv.HistoryRow) (running, forcedRunning, finished []kv.HistoryRow) {
	for _, h := range histories {
		switch {
		case h.IsRunning() && h.ForceRepair:
			forcedRunning = append(forcedRunning, h)
		case h.IsRunning():
			running = append(running, h)
		default:
			finished = append(finished, h)
		}
	}
	return
}

func findHost(histories []kv.HistoryRow, host uuid.UUID) (kv.HistoryRow, bool) {
	for _, h := range histories {
		if h.HostID == host {
			return h, true
		}
	}
	return kv.HistoryRow{}, false
}

// compareHostID gives the total order on opaque id bytes spec §4.4's
// tiebreaker requires.
func compareHostID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
