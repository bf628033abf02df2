package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/koltyakov/plugbridge/internal/bridge"
	"github.com/koltyakov/plugbridge/internal/config"
	"github.com/koltyakov/plugbridge/internal/debughttp"
	ilog "github.com/koltyakov/plugbridge/internal/log"
	"github.com/koltyakov/plugbridge/internal/ops"
	"github.com/koltyakov/plugbridge/internal/portdisco"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [flags]",
		Short: "Run the bridge until interrupted",
		// Flags are resolved by config.ParseBridgeFlags so the YAML file and
		// environment layers sit underneath them.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wantsHelp(args) {
				printServeHelp(cmd)
				return nil
			}
			loadBridgeEnvFromDotEnv(".env")

			cfg, err := config.ParseBridgeFlags(args)
			if err != nil {
				return usageError(fmt.Errorf("config: %w", err))
			}
			return runServe(cmd.Context(), cfg, ilog.New(cfg.LogLevel))
		},
	}
}

func wantsHelp(args []string) bool {
	for _, a := range args {
		if a == "-h" || a == "--help" {
			return true
		}
	}
	return false
}

func printServeHelp(cmd *cobra.Command) {
	cfg := config.Default()
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("config", "", "YAML config file")
	config.BindFlags(fs, &cfg)
	fmt.Fprintf(cmd.OutOrStdout(), "Run the bridge until interrupted.\n\nUsage:\n  plugbridge serve [flags]\n\nFlags:\n%s\nEnvironment variables use the PLUGBRIDGE_ prefix (e.g. PLUGBRIDGE_PORT) and are also read from ./.env.\n", fs.FlagUsages())
}

// runServe starts the bridge and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg config.BridgeConfig, logger *slog.Logger) error {
	srv := bridge.New(cfg, logger)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	if _, err := debughttp.StartPprof(ctx, cfg.PprofListen, logger); err != nil {
		_ = srv.Stop()
		return fmt.Errorf("pprof: %w", err)
	}

	events, unsubscribe := srv.Subscribe(64)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Stop()
	})
	g.Go(func() error {
		logEvents(gctx, logger, events)
		return nil
	})
	if cfg.AdvertiseDir != "" {
		own := portdisco.RecordPath(cfg.AdvertiseDir, srv.Port())
		g.Go(func() error {
			watchPeers(gctx, logger, cfg.AdvertiseDir, own)
			return nil
		})
	}
	if cfg.CDPEndpoint != "" {
		g.Go(func() error {
			checkFallback(gctx, logger, srv, cfg.CDPEndpoint)
			return nil
		})
	}
	return g.Wait()
}

func logEvents(ctx context.Context, logger *slog.Logger, events <-chan bridge.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			logger.Info("bridge event", "type", string(evt.Type), "file_key", evt.FileKey, "file_name", evt.FileName)
		}
	}
}

// watchPeers logs other bridge instances appearing in the shared
// advertisement directory. Failure to watch is not fatal.
func watchPeers(ctx context.Context, logger *slog.Logger, dir, own string) {
	err := portdisco.Watch(ctx, dir, func(ch portdisco.Change) {
		if ch.Path == own {
			return
		}
		switch ch.Kind {
		case portdisco.RecordAdded:
			logger.Info("peer bridge advertised", "record", ch.Path)
		case portdisco.RecordRemoved:
			logger.Info("peer bridge withdrawn", "record", ch.Path)
		}
	})
	if err != nil {
		logger.Warn("advertisement watch stopped", "dir", dir, "err", err)
	}
}

// checkFallback reports at startup whether the DevTools transport can serve
// calls while no plugin is connected.
func checkFallback(ctx context.Context, logger *slog.Logger, srv *bridge.Server, endpoint string) {
	cdp := ops.NewCDPConnector(endpoint, logger)
	defer func() { _ = cdp.Close() }()

	c, err := ops.Select(ctx, ops.NewSocketConnector(srv), cdp)
	if err != nil {
		logger.Warn("fallback transport unreachable", "endpoint", endpoint, "err", err)
		return
	}
	logger.Info("transport ready", "connector", c.Name())
}
