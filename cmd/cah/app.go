// Command cah is the orchestrator's CLI surface: it submits
// tasks, inspects and controls running ones, and hosts the daemon/runner
// processes that actually drive a workflow instance to completion.
//
// Wiring follows the usual cobra/viper CLI shape: one root
// cobra.Command, flags bound into viper via internal/config, and a single
// place (buildApp) that constructs every collaborator so subcommands stay
// thin.
package main

import (
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cahq/orchestrator/internal/backend"
	"github.com/cahq/orchestrator/internal/backend/anthropicproc"
	"github.com/cahq/orchestrator/internal/backend/googleproc"
	"github.com/cahq/orchestrator/internal/backend/openaiproc"
	"github.com/cahq/orchestrator/internal/cond"
	"github.com/cahq/orchestrator/internal/config"
	"github.com/cahq/orchestrator/internal/engine"
	"github.com/cahq/orchestrator/internal/eventbus"
	"github.com/cahq/orchestrator/internal/executor"
	"github.com/cahq/orchestrator/internal/handlers"
	"github.com/cahq/orchestrator/internal/logging"
	"github.com/cahq/orchestrator/internal/metrics"
	"github.com/cahq/orchestrator/internal/orphan"
	"github.com/cahq/orchestrator/internal/pathlayout"
	"github.com/cahq/orchestrator/internal/planner"
	"github.com/cahq/orchestrator/internal/queue"
	"github.com/cahq/orchestrator/internal/spawner"
	"github.com/cahq/orchestrator/internal/taskstore"
	"golang.org/x/time/rate"
)

// app bundles every collaborator a subcommand might need. Built once per
// invocation in PersistentPreRunE and stashed on the executing command's
// context, the same "resolve once, thread everywhere" shape
// BindCommonFlags/config.New assume.
type app struct {
	cfg     *config.Config
	layout  *pathlayout.Layout
	log     *zap.Logger
	store   *taskstore.Store
	queue   *queue.Queue
	bus     *eventbus.Bus
	metrics *metrics.Registry
	eng     *engine.Engine
	backend *backend.Registry
	planner *planner.Planner
	exec    *executor.Executor
	spawn   *spawner.Spawner
	orphans *orphan.Recovery
}

// buildApp wires every package this binary owns into one app value. index
// selection (sqlite vs mysql vs none) is resolved here instead of in
// internal/config so config stays a pure flag/env decoder.
func buildApp(cfg *config.Config) (*app, error) {
	layout := pathlayout.Resolve(cfg.DataDir)

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	if err != nil {
		log = logging.Nop()
	}

	idx, err := resolveIndex(layout)
	if err != nil {
		log.Warn("task index unavailable, falling back to directory scan", zap.Error(err))
		idx = nil
	}
	store := taskstore.New(layout, idx)

	q := queue.New(layout)
	bus := eventbus.New()
	bus.SetLogger(log)
	reg := metrics.New(prometheus.NewRegistry())

	evaluator, err := cond.New()
	if err != nil {
		return nil, err
	}
	eng := engine.New(evaluator, bus)

	backendReg := backend.NewRegistry(cfg.DefaultBackend)
	registerBackends(backendReg, cfg)

	msgStore := store
	onDelta := func(nodeID, text string) {
		log.Debug("backend delta", zap.String("node", nodeID), zap.Int("bytes", len(text)))
	}
	handlers.RegisterAll(eng, backendReg, msgStore, cfg.DefaultBackend, onDelta)

	pl := planner.New(backendReg, cfg.DefaultBackend)
	exec := executor.New(layout, store, q, eng, bus, reg, pl)

	self, err := os.Executable()
	if err != nil {
		self = "cah"
	}
	spawn := spawner.New(layout, self)
	recov := orphan.New(store, spawn, log)

	return &app{
		cfg:     cfg,
		layout:  layout,
		log:     log,
		store:   store,
		queue:   q,
		bus:     bus,
		metrics: reg,
		eng:     eng,
		backend: backendReg,
		planner: pl,
		exec:    exec,
		spawn:   spawn,
		orphans: recov,
	}, nil
}

// registerBackends binds the BackendAdapter implementations this binary
// ships with names a workflow plan or a task's `backend` field can select
// by: "cli" (the default subprocess backend) plus one adapter per hosted
// LLM API this module links against.
func registerBackends(reg *backend.Registry, cfg *config.Config) {
	limit := rate.Limit(cfg.RateLimitQPS)
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}

	cliCommand := os.Getenv("CAH_CLI_COMMAND")
	if cliCommand == "" {
		cliCommand = "claude"
	}
	reg.Register("cli", backend.NewCLIAdapter(cliCommand), limit, burst)
	reg.Register("anthropic", anthropicproc.New(os.Getenv("ANTHROPIC_API_KEY"), cfg.DefaultModel), limit, burst)
	reg.Register("openai", openaiproc.New(os.Getenv("OPENAI_API_KEY"), cfg.DefaultModel), limit, burst)
	reg.Register("google", googleproc.New(os.Getenv("GOOGLE_API_KEY"), cfg.DefaultModel), limit, burst)
}

// resolveIndex picks an optional TaskStore cache index from CAH_INDEX_DSN:
// "mysql:<dsn>" selects the MySQL index, "sqlite:<path>" a SQLite index at
// an explicit path, and anything unset falls back to a SQLite index under
// the data root — the lookup still works with a nil Index (directory
// scan only); this just makes prefix resolution fast by default.
func resolveIndex(layout *pathlayout.Layout) (taskstore.Index, error) {
	dsn := os.Getenv("CAH_INDEX_DSN")
	switch {
	case strings.HasPrefix(dsn, "mysql:"):
		return taskstore.NewMySQLIndex(strings.TrimPrefix(dsn, "mysql:"))
	case strings.HasPrefix(dsn, "sqlite:"):
		return taskstore.NewSQLiteIndex(strings.TrimPrefix(dsn, "sqlite:"))
	default:
		return taskstore.NewSQLiteIndex(layout.IndexDBFile())
	}
}

// executeOptionsFor builds the executor.Options a foreground `cah submit
// -F` run uses, sized from the resolved config. (`cah daemon run` passes
// cfg.Concurrency to spawner.NewRunner instead.)
func executeOptionsFor(a *app) executor.Options {
	return executor.Options{Concurrency: a.cfg.Concurrency}
}

// runOrphanScan runs on every CLI invocation and daemon start, so a
// runner whose process died gets re-spawned automatically. Scan failures
// are logged, never fatal — a broken index or an unreadable task dir
// must not block the command the user actually ran.
func (a *app) runOrphanScan(cmd *cobra.Command) {
	recovered, err := a.orphans.Scan(cmd.Context())
	if err != nil {
		a.log.Warn("orphan scan failed", zap.Error(err))
		return
	}
	if notice := orphan.Notice(recovered); notice != "" {
		cmd.Println(notice)
	}
}
