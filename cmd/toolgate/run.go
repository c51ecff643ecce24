package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toolgate-ai/toolgate/internal/agent"
	"github.com/toolgate-ai/toolgate/internal/config"
	"github.com/toolgate-ai/toolgate/internal/event"
	"github.com/toolgate-ai/toolgate/internal/logging"
	"github.com/toolgate-ai/toolgate/internal/permission"
	"github.com/toolgate-ai/toolgate/internal/provider"
	"github.com/toolgate-ai/toolgate/internal/server"
	"github.com/toolgate-ai/toolgate/internal/shell"
	"github.com/toolgate-ai/toolgate/internal/tool"
)

func newRunCmd() *cobra.Command {
	var (
		workDir string
		mode    string
		model   string
		serve   bool
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one agent turn against the configured model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if mode != "" {
				cfg.Mode = mode
			}

			logging.Init(logging.Config{
				Level:  logging.ParseLevel(cfg.Log.Level),
				Pretty: cfg.Log.Pretty,
			})

			client, err := provider.NewAnthropicClient(provider.AnthropicConfig{Model: model})
			if err != nil {
				return err
			}

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

			registry := tool.DefaultRegistry(cfg.WorkDir, shells)
			dispatcher := tool.NewDispatcher("local", registry, arbiter, shells)
			loop := agent.NewLoop(client, dispatcher, arbiter,
				agent.WithMaxIterations(cfg.MaxIterations))

			stopResponder := startTerminalResponder(arbiter)
			defer stopResponder()

			if serve {
				srv := server.New(cfg.Server.Addr, arbiter, shells)
				go func() { _ = srv.ListenAndServe() }()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := loop.Run(ctx, args[0])

			if result != nil && result.Text != "" {
				fmt.Fprintln(cmd.OutOrStdout(), result.Text)
			}

			var lim *agent.IterationLimitError
			if errors.As(err, &lim) {
				fmt.Fprintf(cmd.ErrOrStderr(), "stopped after %d iterations\n", lim.Limit)
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&workDir, "dir", "d", "", "project directory (default: cwd)")
	cmd.Flags().StringVar(&mode, "mode", "", "permission mode (overrides config)")
	cmd.Flags().StringVar(&model, "model", "", "model id (overrides provider default)")
	cmd.Flags().BoolVar(&serve, "serve", false, "also expose the control server while running")
	return cmd
}

// startTerminalResponder answers permission prompts on the terminal until
// the returned stop function runs.
func startTerminalResponder(arbiter *permission.Arbiter) func() {
	stdin := bufio.NewReader(os.Stdin)
	return event.Subscribe(event.PermissionRequired, func(ev event.Event) {
		data, ok := ev.Data.(event.PermissionRequiredData)
		if !ok {
			return
		}

		fmt.Fprintf(os.Stderr, "\n%s wants to run:\n  %s\n", data.ToolName, data.RenderedInput)
		fmt.Fprint(os.Stderr, "[y]es / [a]lways / [n]o / [N]ever / [b]ackground? ")

		line, err := stdin.ReadString('\n')
		if err != nil {
			arbiter.Respond(data.ID, permission.DecisionDeny)
			return
		}

		switch strings.TrimSpace(line) {
		case "y", "yes":
			arbiter.Respond(data.ID, permission.DecisionAllow)
		case "a", "always":
			arbiter.Respond(data.ID, permission.DecisionAllowAlways)
		case "N", "never":
			arbiter.Respond(data.ID, permission.DecisionDenyAlways)
		case "b", "background":
			arbiter.Respond(data.ID, permission.DecisionBackground)
		default:
			arbiter.Respond(data.ID, permission.DecisionDeny)
		}
	})
}
