// Package cassandra implements pkg/kv.Store against the persisted-table
// schema in spec §6 (auto_repair_history / auto_repair_priority), using
// gocql the way cortex's go.mod pulls in the grafana/gocql fork for its own
// (unrelated) index-store client. Consistency levels follow spec §6:
// LOCAL_QUORUM when replication is topology-aware, ONE otherwise, and
// LOCAL_SERIAL for the insert-if-absent lightweight transaction.
package cassandra

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/cortexproject/cortex-autorepair/pkg/kv"
)

// ErrTransient stands for spec §7's TransientStoreError. Every error a store
// call fails with (including circuit-breaker rejections) is returned wrapped
// around it, with the underlying error's text in the message; errors are not
// classified further.
var ErrTransient = errors.New("transient store error")

// Config configures the Cassandra-backed store.
type Config struct {
	Addresses []string      `yaml:"addresses"`
	Keyspace  string        `yaml:"keyspace"`
	Timeout   time.Duration `yaml:"timeout"`

	// TopologyAware selects the read/write consistency level for
	// auto_repair_history/auto_repair_priority per spec §6: LOCAL_QUORUM
	// when the auto-repair keyspace itself replicates with
	// NetworkTopologyStrategy, ONE otherwise (e.g. a single-DC SimpleStrategy
	// deployment, where quorum buys nothing over a local read).
	TopologyAware bool `yaml:"topology_aware"`

	ConsistencyOne    gocql.Consistency
	ConsistencyQuorum gocql.Consistency
}

// RegisterFlagsWithPrefix registers the store's flags, the same
// per-component prefixing convention cortex's ring.Config uses. A Config
// already carrying values (e.g. unmarshaled from a YAML file) has those
// values used as the flag defaults, so -config.file and flags compose
// instead of the flags unconditionally clobbering the file.
func (c *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	keyspace := c.Keyspace
	if keyspace == "" {
		keyspace = "auto_repair"
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}

	f.Var(&csvAddresses{c}, prefix+"addresses", "Comma-separated list of Cassandra contact points.")
	f.StringVar(&c.Keyspace, prefix+"keyspace", keyspace, "Keyspace holding auto_repair_history/auto_repair_priority.")
	f.DurationVar(&c.Timeout, prefix+"timeout", timeout, "Per-query timeout.")
	f.BoolVar(&c.TopologyAware, prefix+"topology-aware", c.TopologyAware,
		"Use LOCAL_QUORUM for history/priority reads and writes; set when the auto-repair keyspace replicates with NetworkTopologyStrategy. Defaults to ONE.")
}

// csvAddresses adapts Config.Addresses to flag.Value, splitting on commas
// only once the flag package actually sets it (unlike reading a plain
// string var before Parse has run).
type csvAddresses struct{ c *Config }

func (a *csvAddresses) String() string {
	if a.c == nil {
		return ""
	}
	return strings.Join(a.c.Addresses, ",")
}

func (a *csvAddresses) Set(v string) error {
	if v == "" {
		a.c.Addresses = nil
		return nil
	}
	a.c.Addresses = strings.Split(v, ",")
	return nil
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.ConsistencyOne == 0 {
		c.ConsistencyOne = gocql.One
	}
	if c.ConsistencyQuorum == 0 {
		c.ConsistencyQuorum = gocql.LocalQuorum
	}
}

// effectiveConsistency resolves the single level every history/priority
// query uses, per spec §6: LOCAL_QUORUM when the auto-repair keyspace
// replicates topology-aware, ONE otherwise.
func effectiveConsistency(cfg Config) gocql.Consistency {
	if cfg.TopologyAware {
		return cfg.ConsistencyQuorum
	}
	return cfg.ConsistencyOne
}

// Store is a gocql-backed implementation of kv.Store. Every call is routed
// through a gobreaker.CircuitBreaker so a persistently unreachable cluster
// fails fast within a single Arbitrator tick instead of blocking it on the
// per-call deadline repeatedly (spec §7: transient errors collapse a tick to
// NOT_MY_TURN, the breaker just gets there faster once the cluster is known
// to be down).
type Store struct {
	session *gocql.Session
	cfg     Config
	cb      *gobreaker.CircuitBreaker

	// consistency is the effective level for every read/write below,
	// resolved once from cfg.TopologyAware per spec §6.
	consistency gocql.Consistency

	lastUpdate map[kv.RepairType]time.Time
}

// New dials the cluster and prepares the circuit breaker. Table creation is
// assumed to be handled by migrations external to this module.
func New(cfg Config) (*Store, error) {
	cfg.applyDefaults()
	consistency := effectiveConsistency(cfg)

	cluster := gocql.NewCluster(cfg.Addresses...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Timeout = cfg.Timeout
	cluster.Consistency = consistency

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create cassandra session for auto-repair store")
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "auto-repair-store",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Store{
		session:     session,
		cfg:         cfg,
		cb:          cb,
		consistency: consistency,
		lastUpdate:  map[kv.RepairType]time.Time{},
	}, nil
}

func (s *Store) touch(t kv.RepairType) {
	s.lastUpdate[t] = time.Now()
}

func (s *Store) LastUpdateTime(t kv.RepairType) time.Time {
	return s.lastUpdate[t]
}

func (s *Store) withBreaker(fn func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		return errors.Wrap(ErrTransient, err.Error())
	}
	return nil
}

const selectHistoryCQL = `SELECT host_id, repair_start_ts, repair_finish_ts, delete_hosts, delete_hosts_update_time, repair_turn, force_repair FROM auto_repair_history WHERE repair_type = ?`

// SelectHistory reads the whole history table for a repair type at the
// store's resolved consistency level (LOCAL_QUORUM when TopologyAware, ONE
// otherwise).
func (s *Store) SelectHistory(ctx context.Context, t kv.RepairType) ([]kv.HistoryRow, error) {
	var rows []kv.HistoryRow

	err := s.withBreaker(func() error {
		iter := s.session.Query(selectHistoryCQL, string(t)).
			WithContext(ctx).
			Consistency(s.consistency).
			Iter()

		var (
			hostID              gocql.UUID
			start, finish       int64
			deleteHosts         []gocql.UUID
			deleteHostsUpdateTs int64
			turn                string
			force               bool
		)
		for iter.Scan(&hostID, &start, &finish, &deleteHosts, &deleteHostsUpdateTs, &turn, &force) {
			votes := make(map[uuid.UUID]struct{}, len(deleteHosts))
			for _, v := range deleteHosts {
				votes[uuid.UUID(v)] = struct{}{}
			}
			rows = append(rows, kv.HistoryRow{
				RepairType:          t,
				HostID:              uuid.UUID(hostID),
				RepairStartTs:       start,
				RepairFinishTs:      finish,
				DeleteHosts:         votes,
				DeleteHostsUpdateTs: deleteHostsUpdateTs,
				RepairTurn:          turn,
				ForceRepair:         force,
			})
		}
		return iter.Close()
	})
	if err != nil {
		return nil, err
	}

	s.touch(t)
	return rows, nil
}

const insertHistoryIfAbsentCQL = `INSERT INTO auto_repair_history (repair_type, host_id, repair_start_ts, repair_finish_ts, force_repair) VALUES (?, ?, ?, ?, false) IF NOT EXISTS`

// InsertHistoryIfAbsent is the CAS "insert if not exists" from spec §4.1,
// implemented as a Cassandra lightweight transaction at LOCAL_SERIAL.
func (s *Store) InsertHistoryIfAbsent(ctx context.Context, t kv.RepairType, host uuid.UUID, start, finish int64) error {
	return s.withBreaker(func() error {
		applied, err := s.session.Query(insertHistoryIfAbsentCQL, string(t), gocql.UUID(host), start, finish).
			WithContext(ctx).
			SerialConsistency(gocql.LocalSerial).
			ScanCAS()
		if err != nil {
			return err
		}
		// applied == false means the row already existed; per spec, the
		// existing row is kept, which is exactly LWT semantics.
		_ = applied
		s.touch(t)
		return nil
	})
}

const updateStartCQL = `UPDATE auto_repair_history SET repair_start_ts = ?, repair_turn = ? WHERE repair_type = ? AND host_id = ?`

func (s *Store) UpdateStart(ctx context.Context, t kv.RepairType, host uuid.UUID, ts int64, turn string) error {
	err := s.withBreaker(func() error {
		return s.session.Query(updateStartCQL, ts, turn, string(t), gocql.UUID(host)).
			WithContext(ctx).
			Consistency(s.consistency).
			Exec()
	})
	if err == nil {
		s.touch(t)
	}
	return err
}

const updateFinishCQL = `UPDATE auto_repair_history SET repair_finish_ts = ?, force_repair = false WHERE repair_type = ? AND host_id = ?`

// UpdateFinish also clears force_repair atomically, per spec §4.1/§4.5.
func (s *Store) UpdateFinish(ctx context.Context, t kv.RepairType, host uuid.UUID, ts int64) error {
	err := s.withBreaker(func() error {
		return s.session.Query(updateFinishCQL, ts, string(t), gocql.UUID(host)).
			WithContext(ctx).
			Consistency(s.consistency).
			Exec()
	})
	if err == nil {
		s.touch(t)
	}
	return err
}

const addDeleteVoteCQL = `UPDATE auto_repair_history SET delete_hosts = delete_hosts + ?, delete_hosts_update_time = ? WHERE repair_type = ? AND host_id = ?`

// AddDeleteVote appends to the delete_hosts set column; set-union is
// commutative so concurrent voters never conflict (spec §4.1 guarantee).
func (s *Store) AddDeleteVote(ctx context.Context, t kv.RepairType, host, voter uuid.UUID, now int64) error {
	err := s.withBreaker(func() error {
		return s.session.Query(addDeleteVoteCQL, []gocql.UUID{gocql.UUID(voter)}, now, string(t), gocql.UUID(host)).
			WithContext(ctx).
			Consistency(s.consistency).
			Exec()
	})
	if err == nil {
		s.touch(t)
	}
	return err
}

const clearDeleteVotesCQL = `UPDATE auto_repair_history SET delete_hosts = {} WHERE repair_type = ? AND host_id = ?`

func (s *Store) ClearDeleteVotes(ctx context.Context, t kv.RepairType, host uuid.UUID) error {
	err := s.withBreaker(func() error {
		return s.session.Query(clearDeleteVotesCQL, string(t), gocql.UUID(host)).
			WithContext(ctx).
			Consistency(s.consistency).
			Exec()
	})
	if err == nil {
		s.touch(t)
	}
	return err
}

const deleteHistoryCQL = `DELETE FROM auto_repair_history WHERE repair_type = ? AND host_id = ?`

func (s *Store) DeleteHistory(ctx context.Context, t kv.RepairType, host uuid.UUID) error {
	err := s.withBreaker(func() error {
		return s.session.Query(deleteHistoryCQL, string(t), gocql.UUID(host)).
			WithContext(ctx).
			Consistency(s.consistency).
			Exec()
	})
	if err == nil {
		s.touch(t)
	}
	return err
}

const selectPrioritiesCQL = `SELECT repair_priority FROM auto_repair_priority WHERE repair_type = ?`

func (s *Store) SelectPriorities(ctx context.Context, t kv.RepairType) ([]uuid.UUID, error) {
	var ids []gocql.UUID

	err := s.withBreaker(func() error {
		err := s.session.Query(selectPrioritiesCQL, string(t)).
			WithContext(ctx).
			Consistency(s.consistency).
			Scan(&ids)
		if err == gocql.ErrNotFound {
			// No priority row for t yet: an empty priority list.
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		out = append(out, uuid.UUID(id))
	}
	return out, nil
}

const addPriorityCQL = `UPDATE auto_repair_priority SET repair_priority = repair_priority + ? WHERE repair_type = ?`

func (s *Store) AddPriority(ctx context.Context, t kv.RepairType, hosts []uuid.UUID) error {
	gcIDs := make([]gocql.UUID, 0, len(hosts))
	for _, h := range hosts {
		gcIDs = append(gcIDs, gocql.UUID(h))
	}
	return s.withBreaker(func() error {
		return s.session.Query(addPriorityCQL, gcIDs, string(t)).
			WithContext(ctx).
			Consistency(s.consistency).
			Exec()
	})
}

const removePriorityCQL = `UPDATE auto_repair_priority SET repair_priority = repair_priority - ? WHERE repair_type = ?`

func (s *Store) RemovePriority(ctx context.Context, t kv.RepairType, host uuid.UUID) error {
	return s.withBreaker(func() error {
		return s.session.Query(removePriorityCQL, []gocql.UUID{gocql.UUID(host)}, string(t)).
			WithContext(ctx).
			Consistency(s.consistency).
			Exec()
	})
}

func (s *Store) String() string {
	return fmt.Sprintf("cassandra store (keyspace=%s)", s.cfg.Keyspace)
}
