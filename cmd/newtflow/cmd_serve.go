package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/newtron-network/newtflow/pkg/api"
	"github.com/newtron-network/newtflow/pkg/audit"
	"github.com/newtron-network/newtflow/pkg/bridge"
	"github.com/newtron-network/newtflow/pkg/controller"
	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/util"
	"github.com/newtron-network/newtflow/pkg/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller",
	Long: `Run the controller until interrupted.

The control loop, the path-switch scheduler, the Redis bridge (when
bridge.enabled is set) and the HTTP API share one lifetime: the first to
fail stops the others. SIGINT and SIGTERM shut down cleanly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadFabric(false)
		if err != nil {
			return err
		}
		applyLogConfig(cfg.Log)
		return serve(cmd.Context(), cfg, path)
	},
}

// applyLogConfig applies the fabric's log section unless a flag overrode it.
func applyLogConfig(lc fabric.LogConfig) {
	flags := rootCmd.PersistentFlags()
	if !flags.Changed("log-level") && !verbose && lc.Level != "" {
		if err := util.SetLogLevel(lc.Level); err != nil {
			util.Warnf("log.level: %v", err)
		}
	}
	if !logJSON && lc.Format == "json" {
		util.SetJSONFormat()
	}
}

func serve(ctx context.Context, cfg *fabric.Config, path string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	util.WithFields(map[string]interface{}{
		"fabric":  path,
		"devices": len(cfg.Devices),
		"mode":    cfg.HA.Mode,
		"version": version.Version,
	}).Info("starting controller")

	opts := controller.Options{}
	if cfg.Audit.Path != "" {
		logger, err := audit.NewFileLogger(cfg.Audit.Path, audit.RotationConfig{
			MaxSize:    cfg.Audit.MaxSize,
			MaxBackups: cfg.Audit.MaxBackups,
		})
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer logger.Close()
		opts.Audit = logger
	}
	ctrl := controller.New(cfg, opts)

	var b *bridge.Bridge
	if cfg.Bridge.Enabled {
		var err error
		if b, err = bridge.Dial(ctx, cfg.Bridge); err != nil {
			return err
		}
		defer b.Close()
	} else {
		util.Warnf("bridge disabled: no switch events will arrive")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return ctrl.RunScheduler(gctx) })
	if b != nil {
		g.Go(func() error { return b.Run(gctx, ctrl) })
	}

	srv := api.NewServer(ctrl, cfg.API)
	g.Go(func() error { return srv.Run(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		util.Info("controller stopped")
		return nil
	}
	return err
}
