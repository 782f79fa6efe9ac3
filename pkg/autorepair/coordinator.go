package autorepair

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cortexproject/cortex-autorepair/pkg/util/services"
)

// Coordinator owns one scheduler tick per enabled RepairType, running them
// concurrently (SPEC_FULL §7 supplement: spec §5 permits parallelism across
// RepairTypes even though Arbitrator decisions across types read each
// other's state). Modeled on cortex's module manager pattern of many
// services.Service instances started and stopped together.
type Coordinator struct {
	services.Service

	Arbitrator  *Arbitrator
	MyHostID    uuid.UUID
	TickPeriod  time.Duration
	Logger      log.Logger
	Metrics     *Metrics

	// OnMyTurn is invoked with the decision once per tick a node is told to
	// repair; it is responsible for driving RecordStart/RecordFinish and the
	// Splitter around the actual repair work. Left as a caller-supplied hook
	// because the repair execution path (streaming actual SSTable repair) is
	// out of scope (spec §1 Non-goals).
	OnMyTurn func(ctx context.Context, t RepairType, d TurnDecision)
}

func NewCoordinator(a *Arbitrator, myHostID uuid.UUID, tickPeriod time.Duration, logger log.Logger, metrics *Metrics, onMyTurn func(context.Context, RepairType, TurnDecision)) *Coordinator {
	c := &Coordinator{
		Arbitrator: a,
		MyHostID:   myHostID,
		TickPeriod: tickPeriod,
		Logger:     logger,
		Metrics:    metrics,
		OnMyTurn:   onMyTurn,
	}
	c.Service = services.NewBasicService(nil, c.run, nil).WithName("auto-repair coordinator")
	return c
}

func (c *Coordinator) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range []RepairType{Full, Incremental, PreviewRepaired} {
		t := t
		cfg, ok := c.Arbitrator.Configs[t]
		if !ok || !cfg.Enabled {
			continue
		}
		g.Go(func() error {
			return c.tickLoop(ctx, t)
		})
	}
	return g.Wait()
}

func (c *Coordinator) tickLoop(ctx context.Context, t RepairType) error {
	ticker := time.NewTicker(c.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d := c.Arbitrator.TurnFor(ctx, t, c.MyHostID)
			level.Debug(c.logger()).Log("msg", "turn decision", "repair_type", t, "decision", d)
			if d.IsMyTurn() && c.OnMyTurn != nil {
				c.OnMyTurn(ctx, t, d)
			}
		}
	}
}

func (c *Coordinator) logger() log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.NewNopLogger()
}
