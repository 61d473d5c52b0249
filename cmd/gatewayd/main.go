// gatewayd is the agent gateway's server binary: it wires the HTTP surface
// (internal/httpapi) to the session manager, MCP supervisor, and LLM client
// factory, then serves until terminated, draining in-flight streams and MCP
// subprocesses within the configured window (spec §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentgw/internal/agentsession"
	"agentgw/internal/apperrors"
	"agentgw/internal/async"
	"agentgw/internal/config"
	"agentgw/internal/httpapi"
	"agentgw/internal/llmclient"
	"agentgw/internal/logging"
	"agentgw/internal/mcpsupervisor"
	"agentgw/internal/secrets"
	"agentgw/internal/sessionmanager"
	"agentgw/internal/userconfig"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "agent gateway server",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to an optional YAML config file")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("gatewayd %s (commit %s, built %s)\n", version, commit, buildDate)
			return nil
		},
	}
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the gateway's HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

// modelCatalog is the gateway's static /v1/list/models response plus the
// routing table the LLM client factory uses to pick a provider per model id.
// A future iteration may load this from configPath instead of hardcoding it.
var modelCatalog = []struct {
	httpapi.ModelInfo
	Provider llmclient.ProviderKind
}{
	{ModelInfo: httpapi.ModelInfo{ModelID: "claude-sonnet-4-5", ModelName: "Claude Sonnet 4.5"}, Provider: llmclient.ProviderAnthropic},
	{ModelInfo: httpapi.ModelInfo{ModelID: "gpt-4o", ModelName: "GPT-4o"}, Provider: llmclient.ProviderOpenAI},
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("gatewayd: load config: %w", err)
	}

	logger := logging.NewCategoryLogger("GATEWAYD", "main")
	ctx := context.Background()

	apiKey, err := resolveAPIKey(ctx, cfg)
	if err != nil {
		return fmt.Errorf("gatewayd: resolve api key: %w", err)
	}

	store, err := newUserConfigStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("gatewayd: user config store: %w", err)
	}

	supervisor := mcpsupervisor.New(mcpsupervisor.Config{
		Store:   store,
		Factory: mcpsupervisor.DefaultClientFactory(cfg.HandshakeDeadline, cfg.ToolCallDeadline),
	})

	models := make([]httpapi.ModelInfo, 0, len(modelCatalog))
	routes := make([]llmclient.ModelRoute, 0, len(modelCatalog))
	for _, m := range modelCatalog {
		models = append(models, m.ModelInfo)
		routes = append(routes, llmclient.ModelRoute{ModelID: m.ModelID, Provider: m.Provider})
	}
	llmFactory := llmclient.NewFactory(routes, llmclient.ProviderConfig{
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
	})

	sessions := sessionmanager.New(sessionmanager.Config{
		Factory:     sessionFactory(llmFactory, supervisor),
		IdleHorizon: cfg.IdleHorizon,
	})

	evictCtx, stopEviction := context.WithCancel(ctx)
	defer stopEviction()
	async.Go(logger, "session.evict", func() {
		sessionmanager.RunEvictionLoop(evictCtx, sessions, time.Minute)
	})

	handler := httpapi.NewRouter(httpapi.Deps{
		Models:     models,
		Supervisor: supervisor,
		Sessions:   sessions,
	}, httpapi.Config{
		APIKey:           apiKey,
		AllowedOrigins:   cfg.AllowedOrigins,
		Environment:      cfg.Environment,
		NonStreamTimeout: cfg.UpstreamDeadline,
		MaxRequestBytes:  cfg.MaxRequestBodyBytes,
		StreamGuard: httpapi.StreamGuardConfig{
			MaxConcurrent: 64,
			MaxDuration:   cfg.UpstreamDeadline,
		},
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: handler,
	}

	return serveUntilSignal(server, sessions, supervisor, logger, cfg)
}

const defaultSystemPrompt = "You are a helpful assistant with access to the tools the user has enabled."

// sessionFactory closes over the LLM factory and MCP supervisor to build a
// sessionmanager.SessionFactory, mirroring the teacher's container.go
// pattern of building closures that capture shared infrastructure once at
// startup rather than threading it through every call site.
func sessionFactory(llmFactory *llmclient.Factory, supervisor *mcpsupervisor.Supervisor) sessionmanager.SessionFactory {
	return func(userID, modelID string, enabledServerIDs []string) (*agentsession.Session, error) {
		client, err := llmFactory.GetClient(modelID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindValidationBadArg, "resolve model client", err)
		}
		return agentsession.New(agentsession.Config{
			UserID:       userID,
			ModelID:      modelID,
			SystemPrompt: defaultSystemPrompt,
			Tools:        sessionmanager.BindTools(supervisor, userID, enabledServerIDs),
			LLM:          client,
		}), nil
	}
}

func resolveAPIKey(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.AWSRegion == "" {
		return cfg.APIKey, nil
	}
	store, err := secrets.NewAWSSecretStore(ctx, cfg.AWSRegion)
	if err != nil {
		return "", err
	}
	resolver := secrets.New(store)
	return resolver.Resolve(ctx, cfg.APIKey)
}

func newUserConfigStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (userconfig.Store, error) {
	if cfg.AWSRegion == "" || cfg.UserConfigTable == "" {
		logger.Warn("no AWS_REGION/USER_CONFIG_TABLE configured, falling back to an in-memory user-config store (not durable across restarts)")
		return userconfig.NewMemoryStore(), nil
	}
	return userconfig.NewDynamoDBStore(ctx, cfg.AWSRegion, cfg.UserConfigTable)
}

// serveUntilSignal runs server until SIGINT/SIGTERM, then drains every
// in-flight stream and MCP subprocess within a bounded window before
// exiting, grounded on
// cklxx-elephant.ai/internal/delivery/server/bootstrap/server.go's
// serveUntilSignal.
func serveUntilSignal(server *http.Server, sessions *sessionmanager.Manager, supervisor *mcpsupervisor.Supervisor, logger logging.Logger, cfg *config.Config) error {
	errCh := make(chan error, 1)
	async.Go(logger, "server.listen", func() {
		logger.Info("gatewayd listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err == nil || err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-quit:
		logger.Info("shutting down gatewayd...")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDrain)
		defer cancel()

		shutdownErr := server.Shutdown(ctx)
		sessions.Shutdown(ctx)
		supervisor.Shutdown(ctx)

		serveErr := <-errCh
		if serveErr == http.ErrServerClosed {
			serveErr = nil
		}

		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}
		logger.Info("gatewayd stopped")
		return nil
	}
}
