package autorepair

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitterConfig_DefaultsAreValid(t *testing.T) {
	require.NoError(t, DefaultSplitterConfig(Full).Validate())
	require.NoError(t, DefaultSplitterConfig(Incremental).Validate())
}

func TestSplitterConfig_Validate_RejectsBytesPerAssignmentAboveSchedule(t *testing.T) {
	cfg := SplitterConfig{BytesPerAssignment: 200, MaxBytesPerSchedule: 100, MaxTablesPerAssignment: 1}
	err := cfg.Validate()
	require.Error(t, err)
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	require.Contains(t, cerr.Keys, "bytes_per_assignment")
}

func TestSplitterConfig_Validate_EqualBytesAndScheduleIsLegal(t *testing.T) {
	cfg := SplitterConfig{BytesPerAssignment: 100, MaxBytesPerSchedule: 100, MaxTablesPerAssignment: 1}
	require.NoError(t, cfg.Validate())
}

func TestSplitterConfig_Validate_RejectsNonPositiveMaxTables(t *testing.T) {
	cfg := SplitterConfig{BytesPerAssignment: 1, MaxBytesPerSchedule: Unlimited, MaxTablesPerAssignment: 0}
	require.Error(t, cfg.Validate())
}

func TestConfig_ParallelLimit(t *testing.T) {
	cfg := Config{ParallelRepairCount: 1, ParallelRepairPercentage: 0}
	require.Equal(t, 1, cfg.ParallelLimit(10))

	cfg = Config{ParallelRepairCount: 1, ParallelRepairPercentage: 50}
	require.Equal(t, 5, cfg.ParallelLimit(10))

	cfg = Config{ParallelRepairCount: 3, ParallelRepairPercentage: 10}
	require.Equal(t, 3, cfg.ParallelLimit(10), "count floor wins when percentage is smaller")

	cfg = Config{ParallelRepairCount: 0, ParallelRepairPercentage: 0}
	require.Equal(t, 1, cfg.ParallelLimit(10), "limit is never less than 1")
}

func TestConfig_RegisterFlagsWithPrefix(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlagsWithPrefix("full.", fs)

	require.NoError(t, fs.Parse([]string{
		"-full.enabled=false",
		"-full.parallel-repair-count=4",
	}))

	require.False(t, cfg.Enabled)
	require.Equal(t, 4, cfg.ParallelRepairCount)
}
