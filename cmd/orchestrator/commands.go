package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mindgains/orchestrator/internal/metrics"
	"github.com/mindgains/orchestrator/internal/orchestrator"
	"github.com/mindgains/orchestrator/internal/provider"
)

// --- health command ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every available provider",
	Long: `Send a one-line probe to each available provider and report
which ones answered. Unavailable providers are reported without being
called. Exits non-zero when no provider is healthy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd, metrics.Noop{})
		if err != nil {
			return err
		}
		health := rt.orc.HealthCheck(cmd.Context())
		if printHealth(cmd.OutOrStdout(), health) == 0 {
			return errors.New("no healthy providers")
		}
		return nil
	},
}

func printHealth(w io.Writer, health map[provider.ID]bool) int {
	ids := make([]string, 0, len(health))
	for id := range health {
		ids = append(ids, id.String())
	}
	sort.Strings(ids)

	healthy := 0
	for _, id := range ids {
		status := "unhealthy"
		if health[provider.ID(id)] {
			status = "healthy"
			healthy++
		}
		fmt.Fprintf(w, "  %-10s %s\n", id, status)
	}
	return healthy
}

// --- models command ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Print the provider registry as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd, metrics.Noop{})
		if err != nil {
			return err
		}
		return printModels(cmd.OutOrStdout(), rt.orc.Registry().Providers())
	},
}

type modelView struct {
	orchestrator.ProviderConfig `yaml:",inline"`
	Available                   bool `yaml:"available"`
}

func printModels(w io.Writer, configs []orchestrator.ProviderConfig) error {
	views := make([]modelView, len(configs))
	for i, c := range configs {
		views[i] = modelView{ProviderConfig: c, Available: c.Available}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"models": views}); err != nil {
		return fmt.Errorf("encoding models: %w", err)
	}
	return enc.Close()
}

// --- exec command ---

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Execute one task and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := taskFromFlags(cmd)
		if err != nil {
			return err
		}
		rt, err := bootstrap(cmd, metrics.Noop{})
		if err != nil {
			return err
		}

		result := rt.orc.Execute(cmd.Context(), req)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("task failed: %s", result.Error)
		}
		return nil
	},
}

func taskFromFlags(cmd *cobra.Command) (orchestrator.TaskRequest, error) {
	task, _ := cmd.Flags().GetString("task")
	prompt, _ := cmd.Flags().GetString("prompt")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")

	category, err := provider.ParseTaskCategory(task)
	if err != nil {
		return orchestrator.TaskRequest{}, err
	}
	req := orchestrator.TaskRequest{
		Category:  category,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	}
	if cmd.Flags().Changed("temperature") {
		temp, _ := cmd.Flags().GetFloat64("temperature")
		req.Temperature = &temp
	}
	return req, req.Validate()
}
