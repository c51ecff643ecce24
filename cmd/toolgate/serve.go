package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolgate-ai/toolgate/internal/config"
	"github.com/toolgate-ai/toolgate/internal/logging"
	"github.com/toolgate-ai/toolgate/internal/permission"
	"github.com/toolgate-ai/toolgate/internal/server"
	"github.com/toolgate-ai/toolgate/internal/shell"
)

func newServeCmd() *cobra.Command {
	var (
		workDir string
		addr    string
		mode    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if workDir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				workDir = wd
			}

			cfg, err := config.Load(workDir)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if mode != "" {
				cfg.Mode = mode
			}

			logging.Init(logging.Config{
				Level:  logging.ParseLevel(cfg.Log.Level),
				Pretty: cfg.Log.Pretty,
			})
			log := logging.For("main")

			pctx := permission.NewContext(cfg.WorkDir, permission.ParseMode(cfg.Mode))
			for _, dir := range cfg.WritableDirs {
				pctx.AddWritableDir(dir)
			}
			arbiter := permission.NewArbiter(pctx)

			shells := shell.NewManager(
				shell.WithBufferBytes(cfg.Shell.BufferBytes),
				shell.WithRetention(cfg.Shell.Retention.Std()),
			)
			defer shells.Shutdown()

			srv := server.New(cfg.Server.Addr, arbiter, shells)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info().Msg("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVarP(&workDir, "dir", "d", "", "project directory (default: cwd)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&mode, "mode", "", "initial permission mode (overrides config)")
	return cmd
}
