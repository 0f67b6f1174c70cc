package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/config"
	"github.com/Rogers-F/handoff-engine/internal/guard"
	"github.com/Rogers-F/handoff-engine/internal/provider"
	"github.com/Rogers-F/handoff-engine/internal/store"
	"github.com/Rogers-F/handoff-engine/internal/workflow"
)

// Open wires the engine from settings: the sqlite store, the provider
// executor behind a rate limit, the file mutator rooted at Files.Root and
// the orchestrator. Metrics are registered with reg when it is non-nil.
// Without a configured provider command the template executor answers.
func Open(settings *config.Settings, logger *zap.Logger, reg prometheus.Registerer) (*Bridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	providers, err := provider.FromSettings(settings.Provider)
	if err != nil {
		return nil, err
	}
	var exec capability.ModelExecutor = capability.TemplateExecutor{}
	if providers.Len() > 0 {
		exec = provider.NewExecutor(providers, settings.Provider.Timeout, logger.Named("provider"))
	} else {
		logger.Info("no provider command configured, using template responses")
	}
	exec = guard.NewLimited(exec, settings.Provider.RatePerSecond, settings.Provider.Burst)

	doc := config.DefaultDocument()
	if path := settings.Workflow.ConfigPath; path != "" {
		if doc, err = (config.FileSource{}).Load(path); err != nil {
			return nil, err
		}
	}
	cfg, warnings, err := config.FromDocument(doc)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn("workflow config", zap.String("warning", w))
	}
	cfg = settings.ApplyTo(cfg, doc)

	st, err := store.Open(settings.Store.Path)
	if err != nil {
		return nil, err
	}

	orch := workflow.NewOrchestrator(st, exec, capability.NewDirMutator(settings.Files.Root), cfg,
		workflow.WithLogger(logger.Named("workflow")),
		workflow.WithMetrics(workflow.NewMetrics(reg)),
	)
	logger.Info("engine ready",
		zap.String("store", settings.Store.Path),
		zap.String("files_root", settings.Files.Root),
		zap.Strings("providers", providers.List()))

	return New(orch, st, settings.Workflow.ConfigPath, settings, logger.Named("bridge")), nil
}

// Close releases the store and flushes the logger.
func (b *Bridge) Close() error {
	var err error
	if b.Store != nil {
		err = multierr.Append(err, b.Store.Close())
	}
	// Sync fails on non-file outputs such as stderr on some platforms.
	_ = b.Logger.Sync()
	return err
}
