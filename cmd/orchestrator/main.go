package main

import (
	"fmt"
	"os"

	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mindgains/orchestrator/config"
	"github.com/mindgains/orchestrator/internal/logging"
	"github.com/mindgains/orchestrator/internal/metrics"
	"github.com/mindgains/orchestrator/internal/orchestrator"
	"github.com/mindgains/orchestrator/internal/provider"
	"github.com/mindgains/orchestrator/internal/provider/breaker"
	"github.com/mindgains/orchestrator/internal/provider/claude"
	"github.com/mindgains/orchestrator/internal/provider/gemini"
	"github.com/mindgains/orchestrator/internal/provider/openai"
	"github.com/mindgains/orchestrator/internal/telemetry"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "MindGains AI model orchestrator",
	Long: `Routes generation tasks to the cheapest capable LLM provider
(OpenAI, Anthropic Claude, Google Gemini), retries once on a different
provider when a call fails, and exposes batch execution, provider health
probes and registry introspection.

Provider credentials come from OPENAI_API_KEY, ANTHROPIC_API_KEY and
GEMINI_API_KEY; a provider without a key is unavailable.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("registry", "", "YAML registry file (overrides REGISTRY_FILE)")

	execCmd.Flags().String("task", "", "task category: creative, factual, current_events, explanatory, analysis")
	execCmd.Flags().String("prompt", "", "prompt text")
	execCmd.Flags().Int("max-tokens", 0, "completion token budget (default 2000)")
	execCmd.Flags().Float64("temperature", orchestrator.DefaultTemperature, "sampling temperature")
	_ = execCmd.MarkFlagRequired("task")
	_ = execCmd.MarkFlagRequired("prompt")

	rootCmd.AddCommand(serveCmd, healthCmd, modelsCmd, execCmd)
}

// runtime is everything a command needs to talk to providers.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	orc    *orchestrator.Orchestrator
}

// bootstrap loads configuration and builds the orchestrator. m receives
// orchestrator metrics.
func bootstrap(cmd *cobra.Command, m metrics.Metrics) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if path, _ := cmd.Flags().GetString("registry"); path != "" {
		cfg.RegistryFile = path
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	orc, err := newOrchestrator(cfg, logger, m)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, orc: orc}, nil
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger, m metrics.Metrics) (*orchestrator.Orchestrator, error) {
	configs, err := cfg.ProviderConfigs()
	if err != nil {
		return nil, err
	}
	registry, err := orchestrator.NewRegistry(configs)
	if err != nil {
		return nil, fmt.Errorf("invalid registry: %w", err)
	}

	opts, err := cfg.OrchestratorOptions()
	if err != nil {
		return nil, err
	}
	opts.Logger = logger
	opts.Metrics = m
	opts.Tracer = otel.Tracer(telemetry.ServiceName)

	for _, p := range configs {
		logger.Info("provider registered",
			zap.String("provider", p.ID.String()),
			zap.String("model", p.Model),
			zap.Bool("available", p.Available),
		)
	}
	return orchestrator.New(registry, transports(cfg, logger), opts)
}

// transports builds a breaker-guarded transport for every provider that has
// a credential.
func transports(cfg *config.Config, logger *zap.Logger) []provider.Transport {
	settings := breaker.DefaultSettings()
	settings.OnStateChange = func(id provider.ID, from, to gobreaker.State) {
		logger.Warn("circuit breaker state changed",
			zap.String("provider", id.String()),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	keys := cfg.APIKeys()
	constructors := map[provider.ID]func(string) provider.Transport{
		provider.OpenAI: func(k string) provider.Transport { return openai.New(k) },
		provider.Claude: func(k string) provider.Transport { return claude.New(k) },
		provider.Gemini: func(k string) provider.Transport { return gemini.New(k) },
	}

	var out []provider.Transport
	for _, id := range provider.IDs() {
		if keys[id] == "" {
			continue
		}
		out = append(out, breaker.Wrap(constructors[id](keys[id]), settings))
	}
	return out
}
