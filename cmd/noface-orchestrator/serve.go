package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/femtomc/noface/internal/command"
	"github.com/femtomc/noface/internal/config"
	"github.com/femtomc/noface/internal/control"
	"github.com/femtomc/noface/internal/loop"
	"github.com/femtomc/noface/internal/scheduler"
	"github.com/femtomc/noface/internal/store"
	"github.com/femtomc/noface/internal/tracker"
	"github.com/femtomc/noface/internal/transcript"
	"github.com/femtomc/noface/internal/vcs"
	"github.com/femtomc/noface/internal/workerpool"
)

var (
	flagLeasePath string
	flagGitTimeoutSeconds int
	flagTrackerBinary string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator main loop",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagLeasePath, "lease", ".noface/run.lock", "single-flight lease file, relative to project dir")
	serveCmd.Flags().IntVar(&flagGitTimeoutSeconds, "git-timeout", 30, "timeout in seconds for git subprocess calls")
	serveCmd.Flags().StringVar(&flagTrackerBinary, "tracker-binary", "bd", "external tracker CLI binary")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()

	var overrides *config.Config
	if GetDryRun() {
		overrides = &config.Config{Runtime: config.RuntimeConfig{DryRun: true}}
	}
	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	projectDir, err := filepath.Abs(GetProjectDir())
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	stateDir := filepath.Join(projectDir, ".noface")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	lease, err := loop.AcquireLease(projectDir, flagLeasePath, 2*time.Minute)
	if err != nil {
		return err
	}
	defer lease.Release()
	log.Info().Str("lease", lease.Path()).Msg("acquired single-flight lease")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gitTimeout := time.Duration(flagGitTimeoutSeconds) * time.Second
	vcsAdapter, err := vcs.New(ctx, projectDir, cfg.Project.Name, gitTimeout)
	if err != nil {
		return fmt.Errorf("vcs adapter: %w", err)
	}

	st, err := store.Open(filepath.Join(stateDir, "state.bolt"))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	tr, err := transcript.New(filepath.Join(stateDir, "transcripts"))
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}

	var sched scheduler.Tracker
	if cfg.Tracker.Type == "beads" {
		sched = tracker.New(flagTrackerBinary, gitTimeout)
	}

	pool := workerpool.New(st, vcsAdapter, tr, cfg.Agents, log.With().Str("component", "worker_pool").Logger())
	if cfg.Runtime.DryRun {
		pool.SetDryRun(true)
		log.Info().Msg("dry-run mode: workspace creation and merge are stubbed out")
	}
	mainLoop := loop.New(st, vcsAdapter, pool, sched, cfg, log.With().Str("component", "main_loop").Logger())

	watcher, err := config.NewWatcher(log.With().Str("component", "config_watcher").Logger(), func(updated *config.Config) {
		cfg.Agents = updated.Agents
		cfg.Passes = updated.Passes
	})
	if err != nil {
		log.Warn().Err(err).Msg("config watcher unavailable, hot-reload disabled")
	}
	if watcher != nil {
		defer watcher.Close()
	}

	if err := mainLoop.Recover(ctx); err != nil {
		return fmt.Errorf("recover crashed work: %w", err)
	}

	surface := command.New(mainLoop, st)
	ctrl := control.NewServer(surface, flagAddr, log.With().Str("component", "control_server").Logger())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, stopping loop")
		mainLoop.Stop()
	}()

	ctrlErrCh := make(chan error, 1)
	go func() { ctrlErrCh <- ctrl.Run(ctx) }()

	log.Info().Str("addr", flagAddr).Str("project_dir", projectDir).Msg("orchestrator started")
	runErr := mainLoop.Run(ctx)
	cancel()
	if ctrlErr := <-ctrlErrCh; ctrlErr != nil {
		log.Warn().Err(ctrlErr).Msg("control server stopped with error")
	}
	return runErr
}
