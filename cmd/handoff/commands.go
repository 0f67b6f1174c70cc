package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Rogers-F/handoff-engine/internal/analyzer"
	"github.com/Rogers-F/handoff-engine/internal/bridge"
	"github.com/Rogers-F/handoff-engine/internal/config"
	"github.com/Rogers-F/handoff-engine/internal/ipc"
	"github.com/Rogers-F/handoff-engine/internal/mcp"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		hints     []string
		overrides string
	)
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a task through the workflow",
		Long: `Run a task through the workflow until it completes, pauses or fails.

Examples:
  handoff run "Add JWT authentication to the login endpoint"
  handoff run --hint "uses chi router" "Add a health endpoint"
  handoff run --overrides '{"workflow":{"auto_approve":true}}' "Refactor the cache"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := bridge.ExecuteRequest{Task: strings.Join(args, " "), ContextHints: hints}
			if overrides != "" {
				if err := json.Unmarshal([]byte(overrides), &req.Overrides); err != nil {
					return &exitError{code: exitUsage, err: fmt.Errorf("--overrides is not a JSON object: %w", err)}
				}
			}
			b, err := g.open(nil)
			if err != nil {
				return err
			}
			defer b.Close()

			view, err := b.ExecuteWorkflow(cmd.Context(), req)
			return g.finish(cmd, view, err)
		},
	}
	cmd.Flags().StringArrayVar(&hints, "hint", nil, "context hint passed to every phase (repeatable)")
	cmd.Flags().StringVar(&overrides, "overrides", "", "JSON object merged over the workflow configuration")
	return cmd
}

func newResumeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <trace-id> <fix|proceed|abort>",
		Short: "Apply a decision to a paused workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := g.open(nil)
			if err != nil {
				return err
			}
			defer b.Close()

			view, err := b.ResumeWorkflow(cmd.Context(), args[0], args[1])
			return g.finish(cmd, view, err)
		},
	}
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <trace-id>",
		Short: "Show the state of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := g.open(nil)
			if err != nil {
				return err
			}
			defer b.Close()

			view, err := b.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return failureExit(err)
			}
			return g.print(cmd.OutOrStdout(), view)
		},
	}
}

func newListCmd(g *globalFlags) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := g.open(nil)
			if err != nil {
				return err
			}
			defer b.Close()

			list, err := b.ListWorkflows(cmd.Context(), status)
			if err != nil {
				return failureExit(err)
			}
			return g.print(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().StringVar(&status, "status", "paused", "running, paused, completed, failed or aborted")
	return cmd
}

func newLogCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "log <trace-id>",
		Short: "Print the phase log of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := g.open(nil)
			if err != nil {
				return err
			}
			defer b.Close()

			entries, err := b.ReadLog(cmd.Context(), args[0])
			if err != nil {
				return failureExit(err)
			}
			return g.print(cmd.OutOrStdout(), entries)
		},
	}
}

func newAnalyzeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <task>",
		Short: "Classify a task without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := analyzer.Analyze(strings.Join(args, " "))
			if err != nil {
				return failureExit(err)
			}
			return g.print(cmd.OutOrStdout(), a)
		},
	}
}

func newValidateConfigCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config [path]",
		Short: "Validate a workflow configuration document",
		Long: `Validate a workflow configuration document. Without a path the document named
by --config or workflow.config_path is validated. Exits 1 when the document is
invalid.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				settings, _, err := g.load()
				if err != nil {
					return err
				}
				path = settings.Workflow.ConfigPath
			}
			if path == "" {
				return &exitError{code: exitUsage, err: errors.New("no configuration document given")}
			}

			doc, err := (config.FileSource{}).Load(path)
			if err != nil {
				return failureExit(err)
			}
			res := config.Validate(doc)
			if err := g.print(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return &exitError{code: exitFailure}
			}
			return nil
		},
	}
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logger, err := g.load()
			if err != nil {
				return err
			}
			if listen != "" {
				settings.Server.ListenAddr = listen
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			b, err := bridge.Open(settings, logger, reg)
			if err != nil {
				return err
			}
			defer b.Close()

			srv := ipc.NewServer(ipc.NewHandler(b, logger.Named("http")), settings.Server.ListenAddr, reg)

			grp, ctx := errgroup.WithContext(cmd.Context())
			grp.Go(func() error {
				logger.Info("handoff engine listening", zap.String("addr", settings.Server.ListenAddr))
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			grp.Go(func() error {
				<-ctx.Done()
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return grp.Wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen_addr)")
	return cmd
}

func newMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the engine tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logger, err := g.load()
			if err != nil {
				return err
			}
			b, err := bridge.Open(settings, logger, nil)
			if err != nil {
				return err
			}
			defer b.Close()

			return mcp.Serve(cmd.Context(), mcp.NewServer(b, version, logger.Named("mcp")))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "handoff %s (commit=%s, built=%s)\n", version, commit, date)
		},
	}
}
