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

	"github.com/oriys/novafn/internal/api"
	"github.com/oriys/novafn/internal/config"
	"github.com/oriys/novafn/internal/domain"
	"github.com/oriys/novafn/internal/hypervisor"
	"github.com/oriys/novafn/internal/invoker"
	"github.com/oriys/novafn/internal/logging"
	"github.com/oriys/novafn/internal/metrics"
	"github.com/oriys/novafn/internal/pool"
	"github.com/oriys/novafn/internal/registry"
	"github.com/oriys/novafn/internal/tracing"
)

// allRuntimes is the full set of supported runtimes; the warm pool
// creates a queue for each at startup and keeps it topped up in the
// background. The pool rejects any runtime outside this set.
var allRuntimes = []domain.Runtime{
	domain.RuntimeNodeJS18, domain.RuntimeNodeJS20,
	domain.RuntimePython311, domain.RuntimePython312,
	domain.RuntimeDotnet7, domain.RuntimeDotnet8,
}

func daemonCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the novafn control API and invocation pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}

			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
			logging.SetLevelFromString(cfg.Logging.Level)

			if err := tracing.Init(context.Background(), cfg.Tracing); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer tracing.Shutdown(context.Background())

			if cfg.Metrics.Enabled {
				metrics.InitPrometheus("novafn", nil)
			}

			store, closeStore, err := openRegistryStore(context.Background(), cfg.Registry)
			if err != nil {
				return fmt.Errorf("open registry store: %w", err)
			}
			defer closeStore()

			reg := registry.NewService(store)

			hv, err := hypervisor.NewManager(&cfg.Hypervisor)
			if err != nil {
				return fmt.Errorf("init hypervisor manager: %w", err)
			}
			defer hv.Cleanup()

			p := pool.NewPool(hv, pool.Config{
				PoolSize:       cfg.Pool.PoolSize,
				RefillInterval: cfg.Pool.RefillInterval,
				Runtimes:       allRuntimes,
			})
			defer p.Stop()

			inv := invoker.New(p, hv)
			handler := api.NewHandler(reg, inv)
			handler.Pool = p
			handler.MetricsEnabled = cfg.Metrics.Enabled

			mux := http.NewServeMux()
			handler.RegisterRoutes(mux)
			if cfg.Metrics.Enabled {
				mux.Handle("/metrics/prometheus", metrics.PrometheusHandler())
			}
			mux.Handle("/metrics", metrics.Global().JSONHandler())

			srv := &http.Server{
				Addr:         cfg.Server.ListenAddr,
				Handler:      tracing.HTTPMiddleware(mux),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			go func() {
				logging.Op().Info("novad listening", "addr", cfg.Server.ListenAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("server error", "error", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}

// openRegistryStore constructs the registry backend selected by
// cfg.Backend, optionally wrapping it in the read-through Redis cache
// when cfg.RedisAddr is set.
func openRegistryStore(ctx context.Context, cfg config.RegistryConfig) (registry.Store, func(), error) {
	var (
		store   registry.Store
		closeFn func()
	)

	switch cfg.Backend {
	case "postgres":
		pg, err := registry.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = pg, pg.Close
	default:
		ft, err := registry.NewFileTreeStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = ft, func() {}
	}

	if cfg.RedisAddr != "" {
		cached, err := registry.NewCachedStore(store, cfg.RedisAddr, "", 0, 30*time.Second)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		inner := closeFn
		store = cached
		closeFn = func() {
			_ = cached.Close()
			inner()
		}
	}

	return store, closeFn, nil
}
