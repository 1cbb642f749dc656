package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zen-systems/sentinel/pkg/backend"
	"github.com/zen-systems/sentinel/pkg/condition"
	"github.com/zen-systems/sentinel/pkg/config"
	"github.com/zen-systems/sentinel/pkg/intent"
	"github.com/zen-systems/sentinel/pkg/logging"
	"github.com/zen-systems/sentinel/pkg/pipeline"
	"github.com/zen-systems/sentinel/pkg/registry"
	"github.com/zen-systems/sentinel/pkg/reward"
	"github.com/zen-systems/sentinel/pkg/router"
	"github.com/zen-systems/sentinel/pkg/tool"
	"github.com/zen-systems/sentinel/pkg/trace"
)

// app holds the wired components for one command run.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error

	registry *registry.Registry
	router   *router.Router
	tools    *tool.Executor
	ledger   *trace.Ledger
}

func loadApp() (*app, error) {
	cfg, err := config.LoadFrom(homeFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.LogLevel
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	logger, closeLog, err := logging.New(logging.Options{Level: level, File: logFileFlag, Journal: logJournalFlag})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	reg, err := registry.New(cfg.Models)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("failed to build model registry: %w", err)
	}

	clients := backend.Clients(reg, backend.Credentials{
		Anthropic: cfg.AnthropicAPIKey,
		OpenAI:    cfg.OpenAIAPIKey,
		Google:    cfg.GoogleAPIKey,
	}, logger)

	tools := tool.DefaultRegistry()
	if _, err := os.Stat(cfg.ToolsPath); err == nil {
		if err := tools.LoadFile(cfg.ToolsPath); err != nil {
			closeLog()
			return nil, fmt.Errorf("failed to load tools: %w", err)
		}
	}

	ledger, err := trace.Open(cfg.TracePath, trace.WithLogger(logger))
	if err != nil {
		closeLog()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		registry: reg,
		router:   router.New(reg, cfg.Routing, clients, router.WithLogger(logger)),
		tools: tool.NewExecutor(tools,
			tool.WithLogger(logger),
			tool.WithSandboxDir(filepath.Join(cfg.HomeDir, "sandbox"))),
		ledger: ledger,
	}, nil
}

func (a *app) Close() {
	if a.closeLog != nil {
		a.closeLog()
	}
}

func (a *app) pipeline(privileged bool) (*pipeline.Pipeline, error) {
	conditions, err := condition.LoadOrDefault(a.cfg.ConditionsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load conditions: %w", err)
	}
	policy, err := reward.LoadPolicyOrDefault(a.cfg.RewardsPath)
	if err != nil {
		return nil, err
	}
	rewards, err := reward.NewEngine(policy, reward.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Components{
		Classifier: intent.NewClassifier(),
		Router:     a.router,
		Conditions: conditions,
		Tools:      a.tools,
		Ledger:     a.ledger,
		Rewards:    rewards,
	}, pipeline.WithLogger(a.logger), pipeline.WithPrivileged(privileged || a.cfg.AllowPrivileged))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
