// Command autorepair-ctl is an operator utility for inspecting and
// exercising the auto-repair coordinator out of band, modeled on cortex's
// flag-driven cmd/cortex entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v2"

	"github.com/cortexproject/cortex-autorepair/pkg/autorepair"
	"github.com/cortexproject/cortex-autorepair/pkg/kv/cassandra"
	ringpkg "github.com/cortexproject/cortex-autorepair/pkg/ring"
	"github.com/cortexproject/cortex-autorepair/pkg/util/services"
)

// fileConfig is the on-disk config loaded via -config.file, the same
// YAML-first precedence cortex's own entrypoint uses: the file sets the
// ring/store/splitter defaults, and any flags parsed afterward win.
type fileConfig struct {
	Ring      ringpkg.Config                        `yaml:"ring"`
	Store     cassandra.Config                      `yaml:"store"`
	Splitters map[string]autorepair.SplitterConfig `yaml:"splitters"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(buf, &fc); err != nil {
		return fc, fmt.Errorf("parsing config file: %w", err)
	}
	return fc, nil
}

// configFileFlag scans args for -config.file ahead of the subcommand's
// real flag.FlagSet, so the YAML file's values can seed that set's
// defaults before the command-line flags get a chance to override them.
func configFileFlag(args []string) string {
	fs := flag.NewFlagSet("config-prescan", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("config.file", "", "")
	_ = fs.Parse(args)
	return *path
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := log.NewLogfmtLogger(os.Stderr)

	switch os.Args[1] {
	case "turn":
		runTurn(logger, os.Args[2:])
	case "plan":
		runPlan(logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: autorepair-ctl <turn|plan> [flags]")
	fmt.Fprintln(os.Stderr, "  turn  <repair-type> <host-id>   print the turn decision for a host")
	fmt.Fprintln(os.Stderr, "  plan  <repair-type> --primary-only   validate and print the splitter config")
}

func runTurn(logger log.Logger, args []string) {
	fc, err := loadFileConfig(configFileFlag(args))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("turn", flag.ExitOnError)
	fs.String("config.file", "", "YAML file supplying ring/store config; store flags given on the command line override its values")
	cassCfg := fc.Store
	cassCfg.RegisterFlagsWithPrefix("store.", fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if fs.NArg() < 2 {
		usage()
		os.Exit(2)
	}

	t := autorepair.RepairType(fs.Arg(0))
	host, err := uuid.Parse(fs.Arg(1))
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid host id:", err)
		os.Exit(1)
	}

	store, err := cassandra.New(cassCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connecting to store:", err)
		os.Exit(1)
	}

	ringCfg := fc.Ring
	if ringCfg.NodeName == "" {
		ringCfg.NodeName = "autorepair-ctl"
	}
	ring, err := ringpkg.New(ringCfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "starting ring view:", err)
		os.Exit(1)
	}
	// The view only reports members once its starting phase (gossip join
	// and first refresh) has completed.
	if err := ring.StartAsync(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "starting ring view:", err)
		os.Exit(1)
	}
	for ring.State() == services.Starting {
		time.Sleep(10 * time.Millisecond)
	}
	if ring.State() != services.Running {
		fmt.Fprintln(os.Stderr, "starting ring view:", ring.AwaitTerminated(context.Background()))
		os.Exit(1)
	}

	cfg := autorepair.Config{Enabled: true, ParallelRepairCount: 1}
	arb := &autorepair.Arbitrator{
		Store:   store,
		Ring:    ring,
		Configs: map[autorepair.RepairType]autorepair.Config{t: cfg},
		Metrics: autorepair.NewMetrics(prometheus.NewRegistry()),
		Logger:  logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	decision := arb.TurnFor(ctx, t, host)
	fmt.Println(decision.String())
}

func runPlan(logger log.Logger, args []string) {
	fc, err := loadFileConfig(configFileFlag(args))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	fs.String("config.file", "", "YAML file supplying a per-repair-type splitter override")
	primaryOnly := fs.Bool("primary-only", true, "plan only primary ranges, not all local ranges")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if fs.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	fmt.Fprintf(os.Stderr, "plan dry-run for %s (primaryRangeOnly=%v) requires a wired RangeSource/Oracle; "+
		"this stub only validates the splitter config.\n", fs.Arg(0), *primaryOnly)

	t := fs.Arg(0)
	cfg, ok := fc.Splitters[t]
	if !ok {
		cfg = autorepair.DefaultSplitterConfig(autorepair.RepairType(t))
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid splitter config:", err)
		os.Exit(1)
	}
	fmt.Printf("%+v\n", cfg)
}
