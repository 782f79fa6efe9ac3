package autorepair

import (
	"flag"
	"fmt"
	"time"
)

// Unlimited is the sentinel for "no cap" splitter byte budgets (spec §4.6
// table: "unlimited" for FULL/PREVIEW_REPAIRED's maxBytesPerSchedule).
const Unlimited int64 = -1

const (
	gib = 1 << 30
)

// SplitterConfig holds the per-RepairType splitter tunables from spec §4.6.
type SplitterConfig struct {
	BytesPerAssignment      int64  `yaml:"bytes_per_assignment"`
	PartitionsPerAssignment uint64 `yaml:"partitions_per_assignment"`
	MaxTablesPerAssignment  int    `yaml:"max_tables_per_assignment"`
	MaxBytesPerSchedule     int64  `yaml:"max_bytes_per_schedule"`
}

// DefaultSplitterConfig returns the tabulated defaults from spec §4.6 for t.
func DefaultSplitterConfig(t RepairType) SplitterConfig {
	cfg := SplitterConfig{
		BytesPerAssignment:      50 * gib,
		PartitionsPerAssignment: 1 << 20,
		MaxTablesPerAssignment:  64,
		MaxBytesPerSchedule:     Unlimited,
	}
	if t == Incremental {
		cfg.MaxBytesPerSchedule = 100 * gib
	}
	return cfg
}

// Validate enforces spec §4.6's validation rule: bytesPerAssignment <=
// maxBytesPerSchedule, else a ConfigurationError naming the offending keys.
func (c SplitterConfig) Validate() error {
	if c.MaxBytesPerSchedule != Unlimited && c.BytesPerAssignment > c.MaxBytesPerSchedule {
		return &ConfigurationError{
			Keys: []string{"bytes_per_assignment", "max_bytes_per_schedule"},
			Msg: fmt.Sprintf("bytes_per_assignment (%d) must be <= max_bytes_per_schedule (%d)",
				c.BytesPerAssignment, c.MaxBytesPerSchedule),
		}
	}
	if c.MaxTablesPerAssignment <= 0 {
		return &ConfigurationError{Keys: []string{"max_tables_per_assignment"}, Msg: "must be > 0"}
	}
	return nil
}

// Config is the per-RepairType tunable surface from spec §6.
type Config struct {
	Enabled                                   bool                 `yaml:"enabled"`
	RepairByKeyspace                          bool                 `yaml:"repair_by_keyspace"`
	AllowParallelReplicaRepair                bool                 `yaml:"allow_parallel_replica_repair"`
	AllowParallelReplicaRepairAcrossSchedules bool                 `yaml:"allow_parallel_replica_repair_across_schedules"`
	ParallelRepairCount                       int                  `yaml:"parallel_repair_count"`
	ParallelRepairPercentage                  int                  `yaml:"parallel_repair_percentage"`
	IgnoreDCs                                 map[string]struct{} `yaml:"-"`
	ForceRepairNewNode                        bool                 `yaml:"force_repair_new_node"`
	MaterializedViewRepairEnabled             bool                 `yaml:"materialized_view_repair_enabled"`
	AutoRepairTableMaxRepairTime              time.Duration        `yaml:"auto_repair_table_max_repair_time"`
	ClearDeleteHostsBuffer                    time.Duration        `yaml:"auto_repair_history_clear_delete_hosts_buffer_interval"`

	Splitter SplitterConfig `yaml:"splitter"`
}

// RegisterFlagsWithPrefix adds flags, the way cortex's ring.Config does.
func (c *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&c.Enabled, prefix+"enabled", true, "Whether this repair type's scheduler is enabled.")
	f.BoolVar(&c.RepairByKeyspace, prefix+"repair-by-keyspace", true, "Batch small tables within a keyspace into one assignment.")
	f.BoolVar(&c.AllowParallelReplicaRepair, prefix+"allow-parallel-replica-repair", false, "Allow replicas of the same range to repair concurrently.")
	f.BoolVar(&c.AllowParallelReplicaRepairAcrossSchedules, prefix+"allow-parallel-replica-repair-across-schedules", false, "Allow cross-schedule replica overlap without deferral.")
	f.IntVar(&c.ParallelRepairCount, prefix+"parallel-repair-count", 1, "Minimum number of nodes allowed to run repair concurrently.")
	f.IntVar(&c.ParallelRepairPercentage, prefix+"parallel-repair-percentage", 0, "Percentage of the ring allowed to run repair concurrently.")
	f.BoolVar(&c.ForceRepairNewNode, prefix+"force-repair-new-node", false, "Force a full (non-primary-range) repair the first time a node is seen.")
	f.BoolVar(&c.MaterializedViewRepairEnabled, prefix+"materialized-view-repair-enabled", false, "Whether materialized views are included in planning.")
	f.DurationVar(&c.AutoRepairTableMaxRepairTime, prefix+"table-max-repair-time", time.Hour, "Maximum time a single table repair may run before being considered stuck.")
	f.DurationVar(&c.ClearDeleteHostsBuffer, prefix+"clear-delete-hosts-buffer", 2*time.Hour, "How long a stale delete-hosts vote set is kept before being cleared.")
}

// ParallelLimit implements spec §4.4 step 7.
func (c Config) ParallelLimit(totalHistories int) int {
	pct := (totalHistories*c.ParallelRepairPercentage + 99) / 100
	limit := c.ParallelRepairCount
	if pct > limit {
		limit = pct
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// ConfigurationError is spec §7's ConfigurationError: rejected at
// configuration time, naming the offending keys, never surfaced during
// planning.
type ConfigurationError struct {
	Keys []string
	Msg  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid auto-repair configuration for keys %v: %s", e.Keys, e.Msg)
}
