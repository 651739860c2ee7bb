package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mtzanidakis/webextract/internal/config"
	"github.com/mtzanidakis/webextract/internal/ipc"
	"github.com/mtzanidakis/webextract/internal/natsbus"
	"github.com/mtzanidakis/webextract/internal/pipeline"
	"github.com/mtzanidakis/webextract/internal/runner"
	"github.com/mtzanidakis/webextract/internal/scheduler"
	"github.com/mtzanidakis/webextract/internal/store"
	"github.com/mtzanidakis/webextract/internal/telegram"
	"github.com/mtzanidakis/webextract/internal/vault"
	"github.com/mtzanidakis/webextract/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("webextract %s\n", version)
	case "serve":
		err = runServe()
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	case "vault":
		err = runVault(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: webextract <command>

Commands:
  serve                                  Start the extraction service
  backup -f <out.tar.zst>                Snapshot the run store
  restore -f <in.tar.zst> [-overwrite]   Restore a snapshot into the store path
  vault verify                           Check that sealed pipelines open
  version                                Print version
`)
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func openStore(cfg *config.Config) (*store.Store, error) {
	var opts []store.Option
	if cfg.Vault.Passphrase != "" {
		v, err := vault.New(cfg.Vault.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("init vault: %w", err)
		}
		opts = append(opts, store.WithSealer(v))
	}
	return store.New(cfg.Store, opts...)
}

func evictionPolicy(cfg config.RunnerConfig) runner.EvictionPolicy {
	policies := []runner.EvictionPolicy{runner.MaxFinished(cfg.MaxFinished)}
	if cfg.FinishedTTL > 0 {
		policies = append(policies, runner.FinishedTTL(cfg.FinishedTTL))
	}
	return runner.Chain(policies...)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.Log)

	slog.Info("starting webextract", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path, "sealed", cfg.Vault.Passphrase != "")

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	pub, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer pub.Close()

	// Task runner
	r := runner.New(
		runner.WithStore(db),
		runner.WithPublisher(pub),
		runner.WithWorkers(cfg.Runner.MaxConcurrent),
		runner.WithEviction(evictionPolicy(cfg.Runner)),
	)
	defer r.Close()
	n, err := r.Recover()
	if err != nil {
		return fmt.Errorf("recover runs: %w", err)
	}
	slog.Info("runner started", "workers", cfg.Runner.MaxConcurrent, "recovered", n)
	go r.StartJanitor(ctx, cfg.Runner.SweepInterval)

	current := newConfigHolder(cfg)
	catalog := pipeline.NewCatalog(cfg.Pipelines)
	defaults := func() pipeline.Defaults { return current.get().PipelineDefaults() }

	// NATS request/reply commands
	ipcHandler := ipc.New(r, defaults)
	if err := ipcHandler.Start(bus); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	defer ipcHandler.Close()

	// Scheduler
	sched := scheduler.New(db, r, catalog, defaults, pub, cfg.Scheduler)
	if err := sched.Sync(cfg.Schedules); err != nil {
		return fmt.Errorf("sync schedules: %w", err)
	}
	go sched.Start(ctx)

	// Telegram bot
	var bot *telegram.Bot
	if cfg.Telegram.Token != "" {
		bot, err = telegram.NewBot(cfg.Telegram, r, catalog, defaults)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		r.OnFinish(bot.OnRunFinished)
		go func() {
			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram bot error", "error", err)
			}
		}()
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// HTTP API
	if cfg.Web.Enabled {
		srv := web.NewServer(r, db, catalog, defaults, bus, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			slog.Info("shutting down", "signal", sig)
			break
		}
		reload(current, catalog, sched, bot)
	}

	cancel()
	if bot != nil {
		bot.Stop()
	}
	return nil
}

// configHolder guards the config that is swapped on SIGHUP.
type configHolder struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func newConfigHolder(cfg *config.Config) *configHolder {
	return &configHolder{cfg: cfg}
}

func (h *configHolder) get() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *configHolder) set(cfg *config.Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

// reload applies the hot-reloadable parts of a fresh config.
func reload(h *configHolder, catalog *pipeline.Catalog, sched *scheduler.Scheduler, bot *telegram.Bot) {
	next, err := config.Load()
	if err != nil {
		slog.Error("reload config failed", "error", err)
		return
	}
	diff := config.Diff(h.get(), next)
	if !diff.HasChanges() {
		slog.Info("config reloaded, no changes")
		return
	}

	if len(diff.PipelinesAdded)+len(diff.PipelinesRemoved)+len(diff.PipelinesChanged) > 0 {
		catalog.Replace(next.Pipelines)
		slog.Info("pipelines reloaded",
			"added", diff.PipelinesAdded,
			"removed", diff.PipelinesRemoved,
			"changed", diff.PipelinesChanged)
	}
	if diff.SchedulesChanged {
		if err := sched.Sync(next.Schedules); err != nil {
			slog.Error("sync schedules failed", "error", err)
		}
	}
	if diff.SchedulerChanged {
		sched.UpdateConfig(diff.NewScheduler)
	}
	if diff.TelegramNotifyChanged && bot != nil {
		bot.UpdateConfig(next.Telegram)
	}
	for _, field := range diff.NonReloadable {
		slog.Warn("config change requires restart", "field", field)
	}

	old := h.get()
	next.Runner, next.Agent, next.NATS, next.Store = old.Runner, old.Agent, old.NATS, old.Store
	next.Web, next.Vault, next.Telegram.Token = old.Web, old.Vault, old.Telegram.Token
	h.set(next)
}
