package cassandra

import (
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func TestConfig_RegisterFlagsWithPrefix_ParsesAddressList(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlagsWithPrefix("store.", fs)

	require.NoError(t, fs.Parse([]string{
		"-store.addresses=10.0.0.1,10.0.0.2,10.0.0.3",
		"-store.keyspace=my_keyspace",
	}))

	require.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, cfg.Addresses)
	require.Equal(t, "my_keyspace", cfg.Keyspace)
}

func TestConfig_RegisterFlagsWithPrefix_DefaultsWhenUnset(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlagsWithPrefix("store.", fs)
	require.NoError(t, fs.Parse(nil))

	require.Equal(t, "auto_repair", cfg.Keyspace)
	require.Equal(t, 2*time.Second, cfg.Timeout)
	require.Empty(t, cfg.Addresses)
	require.False(t, cfg.TopologyAware)
}

func TestConfig_RegisterFlagsWithPrefix_TopologyAware(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlagsWithPrefix("store.", fs)
	require.NoError(t, fs.Parse([]string{"-store.topology-aware=true"}))
	require.True(t, cfg.TopologyAware)
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	require.Equal(t, 2*time.Second, cfg.Timeout)
	require.Equal(t, gocql.One, cfg.ConsistencyOne)
	require.Equal(t, gocql.LocalQuorum, cfg.ConsistencyQuorum)

	cfg = Config{Timeout: 5 * time.Second, ConsistencyOne: gocql.Quorum, ConsistencyQuorum: gocql.All}
	cfg.applyDefaults()
	require.Equal(t, 5*time.Second, cfg.Timeout, "explicit values are left untouched")
	require.Equal(t, gocql.Quorum, cfg.ConsistencyOne)
	require.Equal(t, gocql.All, cfg.ConsistencyQuorum)
}

func TestEffectiveConsistency(t *testing.T) {
	cfg := Config{ConsistencyOne: gocql.One, ConsistencyQuorum: gocql.LocalQuorum}

	cfg.TopologyAware = false
	require.Equal(t, gocql.One, effectiveConsistency(cfg))

	cfg.TopologyAware = true
	require.Equal(t, gocql.LocalQuorum, effectiveConsistency(cfg))
}

func TestCsvAddresses_SetAndString(t *testing.T) {
	var cfg Config
	a := &csvAddresses{&cfg}

	require.NoError(t, a.Set("host1,host2"))
	require.Equal(t, []string{"host1", "host2"}, cfg.Addresses)
	require.Equal(t, "host1,host2", a.String())

	require.NoError(t, a.Set(""))
	require.Nil(t, cfg.Addresses)
}

func newOpenBreakerStore() *Store {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "test",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures > 0 },
	})
	return &Store{cfg: Config{Keyspace: "auto_repair"}, cb: cb, consistency: gocql.One}
}

func TestStore_WithBreaker_WrapsErrorsAsTransient(t *testing.T) {
	s := newOpenBreakerStore()
	underlying := errors.New("connection refused")

	err := s.withBreaker(func() error { return underlying })
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransient)
}

func TestStore_WithBreaker_PassesThroughSuccess(t *testing.T) {
	s := newOpenBreakerStore()
	require.NoError(t, s.withBreaker(func() error { return nil }))
}

func TestStore_String(t *testing.T) {
	s := &Store{cfg: Config{Keyspace: "auto_repair"}}
	require.Contains(t, s.String(), "auto_repair")
}
