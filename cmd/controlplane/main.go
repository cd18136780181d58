// Command controlplane is the boot entrypoint for the function-as-a-
// service control plane: it wires the supervisor client, registry,
// snapshot, launcher, capacity manager, and reconciler together and
// runs them until signaled. The cobra command layout and the
// config/log-level wiring are grounded on oriys-nova's cmd/nova, cut
// down from its ~15 subcommands to the two this control plane core
// actually needs (spec.md §1 places richer CLI/boot glue out of
// scope).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/noslate-project/alice/internal/bundle"
	"github.com/noslate-project/alice/internal/capacity"
	"github.com/noslate-project/alice/internal/config"
	"github.com/noslate-project/alice/internal/dataplane"
	"github.com/noslate-project/alice/internal/launcher"
	"github.com/noslate-project/alice/internal/logging"
	"github.com/noslate-project/alice/internal/metrics"
	"github.com/noslate-project/alice/internal/reconciler"
	"github.com/noslate-project/alice/internal/registry"
	"github.com/noslate-project/alice/internal/snapshot"
	"github.com/noslate-project/alice/internal/supervisor"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "controlplane",
		Short: "Noslated control plane core",
		Long:  "Function-as-a-service control plane: profile registry, worker capacity management, and state reconciliation.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config YAML (optional, defaults otherwise)")

	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the control plane version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("controlplane dev")
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var turfBinary string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("turf-binary") {
				cfg.Turf.Binary = turfBinary
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&turfBinary, "turf-binary", "turf", "path to the turf supervisor binary")
	return cmd
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New("noslated")
	m.VirtualMemoryPool.Set(float64(cfg.VirtualMemoryPoolSize))

	sup := supervisor.NewCLIClient(cfg.Turf.Binary, m.SupervisorStopRetries)

	reg := registry.New(nil)
	snap := snapshot.New(sup, reg)

	builder := bundle.NewBuilder(cfg.Daemon.BundleDir)
	lnc := launcher.New(reg, snap, sup, builder, cfg.Daemon.LogDir,
		cfg.ControlPlane.ExpandConcurrency, cfg.ControlPlane.ExpandInterval,
		cfg.VirtualMemoryPoolSize, m)

	// No data-plane transport is wired up by default (spec.md §1 places
	// the gRPC server/data-plane peer out of scope); a NullClient keeps
	// the capacity manager and reconciler operable standalone.
	dps := []dataplane.Client{dataplane.NewNullClient()}

	mgr := capacity.New(reg, snap, sup, lnc, dps, cfg.VirtualMemoryPoolSize, m)

	logDirGC := func(workerName string) {
		logging.Op().Info("log dir gc", "worker", workerName)
	}
	rec := reconciler.New(sup, snap, dps, logDirGC, cfg.ControlPlane.ReconcileInterval, 5*time.Minute)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: cfg.Daemon.ListenAddress, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("metrics server failed", "error", err)
		}
	}()

	go rec.Run(ctx)
	go autoScaleLoop(ctx, mgr, cfg.ControlPlane.ReconcileInterval)

	logging.Op().Info("control plane started", "listen", cfg.Daemon.ListenAddress)
	<-ctx.Done()
	logging.Op().Info("control plane shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func autoScaleLoop(ctx context.Context, mgr *capacity.Manager, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.AutoScale(ctx)
		}
	}
}
