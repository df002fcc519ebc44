package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/moonbotd/moonbotd/internal/approvalflow"
	"github.com/moonbotd/moonbotd/internal/approvalpolicy"
	"github.com/moonbotd/moonbotd/internal/auth"
	"github.com/moonbotd/moonbotd/internal/builtintools"
	"github.com/moonbotd/moonbotd/internal/config"
	"github.com/moonbotd/moonbotd/internal/eventbus"
	"github.com/moonbotd/moonbotd/internal/gatewayrpc"
	"github.com/moonbotd/moonbotd/internal/llmprovider"
	"github.com/moonbotd/moonbotd/internal/moonlog"
	"github.com/moonbotd/moonbotd/internal/observability"
	"github.com/moonbotd/moonbotd/internal/orchestrator"
	"github.com/moonbotd/moonbotd/internal/planner"
	"github.com/moonbotd/moonbotd/internal/registry"
	"github.com/moonbotd/moonbotd/internal/runtime"
	"github.com/moonbotd/moonbotd/internal/schema"
	"github.com/moonbotd/moonbotd/internal/sessionstore"
	"github.com/moonbotd/moonbotd/internal/sqlstore"
	"github.com/moonbotd/moonbotd/internal/transport"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

const systemExecToolID = "system.run"

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the moonbotd gateway",
		Long: `Start the moonbotd gateway: load configuration, wire the execution core
(tool runtime, approval flow, planner/executor, task orchestrator) and serve
the loopback JSON-RPC socket until a shutdown signal arrives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the moonbot YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := moonlog.New(moonlog.Config{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	logger := log.Slog().With("component", "moonbotd")

	log.Info(ctx, "starting moonbotd", "version", version, "commit", commit, "config", configPath)

	metrics := observability.NewMetrics()
	if cfg.Observability.Metrics.Enabled {
		go serveMetrics(ctx, cfg, logger)
	}

	var shutdownTracer func(context.Context) error
	if cfg.Observability.Tracing.Enabled {
		_, shutdownTracer = observability.NewTracer(observability.TraceConfig{
			Endpoint:       cfg.Observability.Tracing.Endpoint,
			ServiceName:    cfg.Observability.Tracing.ServiceName,
			ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
			Environment:    cfg.Observability.Tracing.Environment,
			SamplingRate:   cfg.Observability.Tracing.SamplingRate,
			EnableInsecure: cfg.Observability.Tracing.Insecure,
			Attributes:     cfg.Observability.Tracing.Attributes,
		})
	}

	authSvc := auth.NewService(auth.Config{
		TokenHashes:       cfg.Auth.TokenHashes,
		LegacyTokens:      cfg.Auth.LegacyTokens,
		AllowLegacyTokens: cfg.Auth.AllowLegacyTokens,
	})

	pairing, err := auth.NewPairingWithStore(cfg.Auth.Pairing.StorePath)
	if err != nil {
		return fmt.Errorf("load pairing store: %w", err)
	}

	reg := registry.New()
	validator := schema.New()
	if err := registerBuiltinTools(reg, validator, cfg.Server.WorkspaceRoot); err != nil {
		return fmt.Errorf("register built-in tools: %w", err)
	}

	bus := eventbus.New()

	policy, err := approvalpolicy.Load(cfg.Tools.Approval.PolicyFile)
	if err != nil {
		return fmt.Errorf("load approval policy: %w", err)
	}

	rt := runtime.New(runtime.Config{
		MaxConcurrent:     cfg.Tools.Runtime.MaxConcurrent,
		DefaultTimeout:    cfg.Tools.Runtime.DefaultTimeout,
		InvocationTTL:     cfg.Tools.Runtime.InvocationTTL,
		CleanupInterval:   cfg.Tools.Runtime.CleanupInterval,
		ApprovalsEnabled:  cfg.Tools.Approval.Enabled,
		SystemExecToolID:  systemExecToolID,
		WorkspaceRoot:     cfg.Server.WorkspaceRoot,
	}, reg, validator, policy, bus)
	rt.SetMetrics(metrics)

	sessions, err := buildSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}

	approvalStore := approvalflow.NewStore(cfg.Tools.Approval.StorePath)
	flow := approvalflow.NewFlow(approvalflow.Config{
		RequestTTL:    cfg.Tools.Approval.RequestTTL,
		SweepInterval: 30 * time.Second,
	}, approvalStore, bus, rt)
	flow.Start()
	defer flow.Stop()

	provider := buildLLMProvider(cfg.LLM, logger)
	pl := planner.New(planner.Config{
		Identity:             "moonbotd",
		WorkspaceDescription: cfg.Server.WorkspaceRoot,
		ApprovalActions:      cfg.Tools.Approval.Allowlist,
	}, provider)

	executor := planner.NewExecutor(planner.ExecutorConfig{
		AgentID: "moonbotd",
		Logger:  logger,
	}, pl, reg, rt, sessions)

	orch := orchestrator.New(executor, nil, orchestrator.Config{Logger: logger})
	executor.SetPauser(orch)

	facade := gatewayrpc.New(gatewayrpc.Deps{
		Orchestrator: orch,
		Runtime:      rt,
		Registry:     reg,
		Approvals:    flow,
		Auth:         authSvc,
		Sessions:     sessions,
	}, logger)
	orch.SetNotifier(facade)
	flow.RegisterHandler("gateway", facade)

	listener := transport.New(cfg.Gateway, authSvc, facade, logger)
	facade.SetPusher(listener)

	stopCron := startPairingCleanup(pairing, logger)
	defer stopCron()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfgWatcher := startConfigWatcher(ctx, configPath, cfg.Tools.Approval.PolicyFile, rt, logger)
	if cfgWatcher != nil {
		defer cfgWatcher.Close()
	}

	log.Info(ctx, "moonbotd gateway ready", "socket", cfg.Gateway.SocketPath, "host", cfg.Gateway.Host, "port", cfg.Gateway.Port)

	errCh := make(chan error, 1)
	go func() { errCh <- listener.Serve(ctx) }()

	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("transport: %w", err)
		}
	}

	if shutdownTracer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn(context.Background(), "tracer shutdown failed", "error", err)
		}
	}

	log.Info(context.Background(), "moonbotd stopped")
	return nil
}

// registerBuiltinTools registers the small set of tools moonbotd ships with
// itself (internal/builtintools) and compiles each one's input schema.
func registerBuiltinTools(reg *registry.Registry, validator *schema.Validator, workspaceRoot string) error {
	if err := validator.Compile(systemExecToolID, json.RawMessage(builtintools.ExecSchema)); err != nil {
		return err
	}
	reg.Register(moonmodels.ToolDescriptor{
		ID:              systemExecToolID,
		Description:     "Run a single shell command confined to the workspace root.",
		InputSchema:     json.RawMessage(builtintools.ExecSchema),
		RequireApproval: true,
		Handler:         builtintools.NewExecHandler(workspaceRoot),
	})

	const readFileToolID = "fs.read"
	if err := validator.Compile(readFileToolID, json.RawMessage(builtintools.ReadFileSchema)); err != nil {
		return err
	}
	reg.Register(moonmodels.ToolDescriptor{
		ID:              readFileToolID,
		Description:     "Read a file confined to the workspace root.",
		InputSchema:     json.RawMessage(builtintools.ReadFileSchema),
		RequireApproval: false,
		Handler:         builtintools.NewReadFileHandler(workspaceRoot),
	})

	return nil
}

// buildSessionStore selects the Session Store implementation from
// cfg.Backend: the JSONL reference implementation by default, or the
// queryable internal/sqlstore backend addressed by cfg.DSN when a
// deployment wants session history in SQLite/Postgres instead of flat
// files (spec §1/§6 leaves the on-disk format to the environment).
func buildSessionStore(ctx context.Context, cfg config.SessionConfig, logger *slog.Logger) (sessionstore.Store, error) {
	switch cfg.Backend {
	case "", "jsonl":
		return sessionstore.NewJSONLStore(cfg.Directory), nil
	case "sql":
		store, err := sqlstore.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlstore session backend", "dsn_scheme", dsnScheme(cfg.DSN))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func dsnScheme(dsn string) string {
	scheme, _, found := strings.Cut(dsn, "://")
	if !found {
		return dsn
	}
	return scheme
}

// buildLLMProvider constructs the Planner's provider chain from LLMConfig:
// the configured primary backend, then each FallbackChain entry resolved
// against Providers (spec §4.7's "Provider/FallbackChain" fallback-on-error
// path), wrapped in a FallbackProvider that retries each with backoff
// before moving to the next. A nil return means no provider was
// configured — the Planner falls back to its deterministic keyword plan.
func buildLLMProvider(cfg config.LLMConfig, logger *slog.Logger) planner.Provider {
	primary := newBackend(cfg.Provider, llmBackendConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	if primary == nil {
		logger.Warn("no LLM provider configured; planner will use keyword fallback only", "provider", cfg.Provider)
		return nil
	}

	fallbacks := make([]planner.Provider, 0, len(cfg.FallbackChain))
	for _, id := range cfg.FallbackChain {
		providerCfg, ok := cfg.Providers[id]
		if !ok {
			logger.Warn("fallback_chain entry has no matching providers config, skipping", "id", id)
			continue
		}
		if backend := newBackend(id, llmBackendConfig{APIKey: providerCfg.APIKey, Model: providerCfg.Model, BaseURL: providerCfg.BaseURL}); backend != nil {
			fallbacks = append(fallbacks, backend)
		}
	}

	return llmprovider.NewFallbackProvider(primary, fallbacks, cfg.MaxRetries)
}

type llmBackendConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

func newBackend(name string, cfg llmBackendConfig) planner.Provider {
	switch name {
	case "anthropic":
		return llmprovider.NewAnthropicProvider(llmprovider.AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	case "openai":
		return llmprovider.NewOpenAIProvider(llmprovider.OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	default:
		return nil
	}
}

// startPairingCleanup schedules Pairing.Cleanup on a cron-driven sweep
// (SPEC_FULL's domain-stack table names robfig/cron for this job; unlike
// internal/runtime's and internal/approvalflow's own TTL sweeps, which
// already ran on hand-rolled tickers before Pairing had any periodic sweep
// at all, this one starts from nothing, so it gets the cron-driven
// treatment directly rather than inheriting a ticker to replace).
func startPairingCleanup(pairing *auth.Pairing, logger *slog.Logger) func() {
	c := cron.New()
	_, err := c.AddFunc("@every 10m", func() {
		expired, agedOut := pairing.Cleanup()
		if expired > 0 || agedOut > 0 {
			logger.Info("pairing cleanup swept entries", "expired_pending", expired, "aged_out_used", agedOut)
		}
	})
	if err != nil {
		logger.Warn("failed to schedule pairing cleanup", "error", err)
		return func() {}
	}
	c.Start()
	return func() {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}
}

// startConfigWatcher hot-reloads the approval policy (and re-parses the main
// config file to catch edits to it) whenever either changes on disk,
// rebuilding the policy document from scratch and swapping it into the
// running Runtime under its own mutex (AMBIENT STACK's config hot-reload;
// grounded on the teacher's skills.Manager watch loop, via internal/config's
// Watcher). Other config knobs (concurrency limits, socket bindings, and so
// on) are wired once at startup and still require a restart.
func startConfigWatcher(ctx context.Context, configPath, policyPath string, rt *runtime.Runtime, logger *slog.Logger) *config.Watcher {
	paths := []string{configPath}
	if policyPath != "" {
		paths = append(paths, policyPath)
	}

	onChange := func() {
		cfg, err := config.Load(configPath)
		if err != nil {
			logger.Warn("config hot-reload: failed to re-read config, keeping previous policy", "error", err)
			return
		}

		policy, err := approvalpolicy.Load(cfg.Tools.Approval.PolicyFile)
		if err != nil {
			logger.Warn("config hot-reload: failed to re-read approval policy, keeping previous policy", "error", err)
			return
		}

		rt.SetPolicy(policy)
		logger.Info("config hot-reload: approval policy reloaded", "policy_file", cfg.Tools.Approval.PolicyFile)
	}

	watcher, err := config.NewWatcher(paths, 500*time.Millisecond, onChange, logger)
	if err != nil {
		logger.Warn("config hot-reload disabled: failed to start watcher", "error", err)
		return nil
	}
	watcher.Start(ctx)
	return watcher
}

func serveMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.MetricsHost, cfg.Server.MetricsPort)
	mux := http.NewServeMux()
	mux.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	logger.Info("serving metrics", "addr", addr, "path", cfg.Observability.Metrics.Path)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", "error", err)
	}
}

func defaultConfigPath() string {
	if v := os.Getenv("MOONBOT_CONFIG"); v != "" {
		return v
	}
	return "moonbot.yaml"
}
