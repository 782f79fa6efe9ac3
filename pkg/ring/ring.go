// Package ring adapts cortex's pkg/ring.Ring to the narrower "Ring View"
// contract the auto-repair coordinator needs (spec §4.2): a live snapshot
// of {nodeId, hostId, datacenter, broadcastAddress, aliveInGossip}, filtered
// by per-RepairType ignored datacenters. Unlike cortex's Ring it does not
// do consistent-hash token assignment or shuffle sharding — membership here
// is sourced from gossip (hashicorp/memberlist) rather than a KV-replicated
// token ring, because auto-repair only needs "who is alive", not "who owns
// this key".
package ring

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
	"github.com/pkg/errors"

	"github.com/cortexproject/cortex-autorepair/pkg/util/services"
)

// NodeAddress is the Ring View's per-member record (spec §3).
type NodeAddress struct {
	HostID           uuid.UUID
	BroadcastAddress string
	Datacenter       string
	AliveInGossip    bool
}

// Config configures the gossip-backed Ring View, modeled on cortex's
// ring.Config (a thin wrapper adding domain meaning atop the transport's own
// config, here memberlist.Config instead of a kv.Config).
type Config struct {
	NodeName     string        `yaml:"node_name"`
	BindAddr     string        `yaml:"bind_addr"`
	BindPort     int           `yaml:"bind_port"`
	JoinPeers    []string      `yaml:"join_peers"`
	GossipExpiry time.Duration `yaml:"gossip_expiry"`
}

func (c *Config) applyDefaults() {
	if c.GossipExpiry <= 0 {
		c.GossipExpiry = 30 * time.Second
	}
}

// View is a read-only, continuously-updated snapshot of live ring members.
// It is a services.Service: it must be started before Hosts() returns
// anything meaningful, exactly as cortex's Ring must be Running before Get()
// is meaningful.
type View struct {
	services.Service

	cfg   Config
	mlCfg *memberlist.Config
	ml    *memberlist.Memberlist

	mtx     sync.RWMutex
	members map[uuid.UUID]NodeAddress

	logger log.Logger
}

// New creates a gossip-backed Ring View. Being a services.Service, it must
// be started (StartAsync) before Hosts returns a useful snapshot.
func New(cfg Config, logger log.Logger) (*View, error) {
	cfg.applyDefaults()

	v := &View{
		cfg:     cfg,
		members: map[uuid.UUID]NodeAddress{},
		logger:  logger,
	}

	mlCfg := memberlist.DefaultLANConfig()
	mlCfg.Name = cfg.NodeName
	if cfg.BindAddr != "" {
		mlCfg.BindAddr = cfg.BindAddr
	}
	if cfg.BindPort != 0 {
		mlCfg.BindPort = cfg.BindPort
	}
	mlCfg.Events = &eventDelegate{view: v}

	v.Service = services.NewBasicService(v.starting, v.loop, nil).WithName("auto-repair ring view")
	v.mlCfg = mlCfg
	return v, nil
}

func (v *View) starting(ctx context.Context) error {
	ml, err := memberlist.Create(v.mlCfg)
	if err != nil {
		return errors.Wrap(err, "unable to start gossip membership")
	}
	v.ml = ml

	if len(v.cfg.JoinPeers) > 0 {
		if _, err := ml.Join(v.cfg.JoinPeers); err != nil {
			level.Warn(v.logger).Log("msg", "failed to join some gossip peers on startup", "err", err)
		}
	}

	v.refresh()
	return nil
}

func (v *View) loop(ctx context.Context) error {
	ticker := time.NewTicker(v.cfg.GossipExpiry / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if v.ml != nil {
				_ = v.ml.Leave(5 * time.Second)
				_ = v.ml.Shutdown()
			}
			return nil
		case <-ticker.C:
			v.refresh()
		}
	}
}

func (v *View) refresh() {
	if v.ml == nil {
		return
	}

	next := map[uuid.UUID]NodeAddress{}
	for _, m := range v.ml.Members() {
		id, err := uuid.Parse(m.Name)
		if err != nil {
			level.Warn(v.logger).Log("msg", "gossip member name is not a valid host id, skipping", "name", m.Name)
			continue
		}
		next[id] = NodeAddress{
			HostID:           id,
			BroadcastAddress: m.Addr.String(),
			Datacenter:       string(m.Meta),
			AliveInGossip:    true,
		}
	}

	v.mtx.Lock()
	v.members = next
	v.mtx.Unlock()
}

type eventDelegate struct {
	view *View
}

func (e *eventDelegate) NotifyJoin(*memberlist.Node)   { e.view.refresh() }
func (e *eventDelegate) NotifyLeave(*memberlist.Node)  { e.view.refresh() }
func (e *eventDelegate) NotifyUpdate(*memberlist.Node) { e.view.refresh() }

// Hosts returns the live set of HostIds, filtered per spec §4.2: excluding
// datacenters in ignoreDCs and hosts not alive in gossip.
func (v *View) Hosts(ignoreDCs map[string]struct{}) []NodeAddress {
	v.mtx.RLock()
	defer v.mtx.RUnlock()

	out := make([]NodeAddress, 0, len(v.members))
	for _, n := range v.members {
		if !n.AliveInGossip {
			continue
		}
		if _, excluded := ignoreDCs[n.Datacenter]; excluded {
			continue
		}
		out = append(out, n)
	}
	return out
}

// HasHost reports whether the given host is currently a live ring member,
// regardless of DC filtering.
func (v *View) HasHost(id uuid.UUID) bool {
	v.mtx.RLock()
	defer v.mtx.RUnlock()
	n, ok := v.members[id]
	return ok && n.AliveInGossip
}
