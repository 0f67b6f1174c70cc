package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Rogers-F/handoff-engine/internal/bridge"
	"github.com/Rogers-F/handoff-engine/internal/config"
	"github.com/Rogers-F/handoff-engine/internal/domain"
	"github.com/Rogers-F/handoff-engine/internal/logging"
)

// Exit codes.
const (
	exitFailure     = 1
	exitUsage       = 2
	exitPaused      = 3
	exitInterrupted = 130
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

type globalFlags struct {
	settingsPath string
	configPath   string
	logLevel     string
	format       string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "handoff",
		Short: "Multi-phase workflow engine with SME quality gates",
		Long: `handoff drives a task through Strategy, Research, Verify, an optional SME
review gate, Implement and Document, carrying a single handoff packet between
phases.

Exit codes:
  0  workflow completed
  1  workflow failed or aborted, or the command failed
  2  usage error
  3  workflow paused and waiting for a decision (see "handoff resume")`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.settingsPath, "settings", "", "engine settings YAML file (HANDOFF_* variables override it)")
	pf.StringVar(&g.configPath, "config", "", "workflow configuration document (overrides workflow.config_path)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVarP(&g.format, "format", "o", "json", "output format: json or yaml")

	root.AddCommand(
		newRunCmd(g),
		newResumeCmd(g),
		newStatusCmd(g),
		newListCmd(g),
		newLogCmd(g),
		newAnalyzeCmd(g),
		newValidateConfigCmd(g),
		newServeCmd(g),
		newMCPCmd(g),
		newVersionCmd(),
	)
	return root
}

// load reads settings and builds the logger, applying flag overrides.
func (g *globalFlags) load() (*config.Settings, *zap.Logger, error) {
	settings, err := config.LoadSettings(g.settingsPath)
	if err != nil {
		return nil, nil, err
	}
	if g.configPath != "" {
		settings.Workflow.ConfigPath = g.configPath
	}
	if g.logLevel != "" {
		settings.Log.Level = g.logLevel
	}
	logger, err := logging.New(settings.Log)
	if err != nil {
		return nil, nil, &exitError{code: exitUsage, err: err}
	}
	return settings, logger, nil
}

// open wires the engine. reg may be nil.
func (g *globalFlags) open(reg prometheus.Registerer) (*bridge.Bridge, error) {
	settings, logger, err := g.load()
	if err != nil {
		return nil, err
	}
	return bridge.Open(settings, logger, reg)
}

// print writes v to w in the selected format. YAML output goes through JSON
// first so it carries the same field names.
func (g *globalFlags) print(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	switch strings.ToLower(g.format) {
	case "json":
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(w)
		return err
	case "yaml":
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(out)
	}
	return &exitError{code: exitUsage, err: fmt.Errorf("unknown output format %q", g.format)}
}

// finish prints view and maps its status to an exit code.
func (g *globalFlags) finish(cmd *cobra.Command, view *bridge.WorkflowView, err error) error {
	if view == nil {
		return failureExit(err)
	}
	if perr := g.print(cmd.OutOrStdout(), view); perr != nil {
		return perr
	}
	switch view.Status {
	case domain.StatusCompleted:
		return nil
	case domain.StatusPaused:
		fmt.Fprintf(cmd.ErrOrStderr(), "workflow %s paused (%s); resume with: handoff resume %s <fix|proceed|abort>\n",
			view.TraceID, view.PauseReason, view.TraceID)
		return &exitError{code: exitPaused}
	}
	if f := bridge.AsFailure(err); f != nil {
		return &exitError{code: exitFailure, err: f}
	}
	return &exitError{code: exitFailure}
}

func failureExit(err error) error {
	f := bridge.AsFailure(err)
	if f == nil {
		return &exitError{code: exitFailure}
	}
	code := exitFailure
	if f.Kind == domain.KindInvalidInput || f.Kind == domain.KindInsufficientInput {
		code = exitUsage
	}
	return &exitError{code: code, err: f}
}
