package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/LordVaderXIII/Appmanager/pkg/activity"
	"github.com/LordVaderXIII/Appmanager/pkg/api"
	"github.com/LordVaderXIII/Appmanager/pkg/config"
	"github.com/LordVaderXIII/Appmanager/pkg/deploy"
	"github.com/LordVaderXIII/Appmanager/pkg/escalate"
	"github.com/LordVaderXIII/Appmanager/pkg/gitsync"
	"github.com/LordVaderXIII/Appmanager/pkg/health"
	"github.com/LordVaderXIII/Appmanager/pkg/log"
	"github.com/LordVaderXIII/Appmanager/pkg/reconciler"
	"github.com/LordVaderXIII/Appmanager/pkg/remediate"
	"github.com/LordVaderXIII/Appmanager/pkg/runtime"
	"github.com/LordVaderXIII/Appmanager/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "appmanager",
	Short: "App Manager - keep containers in sync with their source repositories",
	Long: `App Manager watches a set of source repositories, keeps a locally
built and running container in sync with each repository's latest
revision, and escalates failures to an automated-remediation service,
tracking each fix through to a merged pull request.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"App Manager version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	serveCmd.Flags().String("config", "", "Path to config file")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serveCmd.Flags().String("listen", "", "API listen address (overrides config)")
	serveCmd.Flags().Duration("interval", 0, "Sweep interval (overrides config)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciliation loop and API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			cfg.DataDir = v
		}
		if v, _ := cmd.Flags().GetString("listen"); v != "" {
			cfg.Listen = v
		}
		if v, _ := cmd.Flags().GetDuration("interval"); v > 0 {
			cfg.Interval = config.Duration(v)
		}
		if v, _ := cmd.Flags().GetString("log-level"); v != "" {
			cfg.Log.Level = v
		}

		return serve(cfg)
	},
}

func serve(cfg config.Config) error {
	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	docker := runtime.NewDockerRuntime()
	act := activity.NewLog(filepath.Join(cfg.DataDir, "activity"))
	remClient := remediate.NewClient(cfg.Remediation.BaseURL)
	ghClient := remediate.NewGitHubClient(cfg.GitHub.BaseURL)

	rec := reconciler.New(reconciler.Config{
		Store:       store,
		Syncer:      gitsync.NewService(),
		Deployer:    deploy.NewDeployer(docker),
		Scanner:     health.NewScanner(docker),
		Escalator:   escalate.NewEscalator(store, remClient, act),
		Tracker:     remediate.NewTracker(store, remClient, ghClient, act),
		Activity:    act,
		DataDir:     cfg.DataDir,
		Interval:    cfg.Interval.Std(),
		PassTimeout: cfg.PassTimeout.Std(),
		Parallelism: cfg.Parallelism,
	})
	rec.Start()
	defer rec.Stop()

	server := api.NewServer(store, rec)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Listen)
	}()

	// Reconcile whatever is already tracked without waiting a full tick
	rec.TriggerNow()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(ctx)
}
