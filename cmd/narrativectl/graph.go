package main

import (
	"time"

	"github.com/narrativeiq/backend/internal/setup"
	"github.com/narrativeiq/backend/pkg/graph"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newGraphCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph [file|-]",
		Short: "Extract the narrative graph of a text",
		Long: `Run local entity extraction, the structuring pass, resolution and graph
construction on a text file (or stdin) and print the graph as JSON.

With --layout the positioned graph is printed instead.`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: bindFlags(v),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			client, err := setup.NewGraphClient(aiConfig(v), v.GetInt("min-mentions"))
			if err != nil {
				return err
			}
			res, err := client.GenerateGraph(cmd.Context(), string(text), graph.GenerateOptions{})
			if err != nil {
				return err
			}

			if !v.GetBool("layout") {
				return writeJSON(cmd.OutOrStdout(), res.Graph)
			}
			return writeJSON(cmd.OutOrStdout(), graph.Layout(res.Graph, layoutOptions(v)))
		},
	}

	f := cmd.Flags()
	f.String("adapter", "openai", "LLM backend (openai, ollama)")
	f.String("chat-url", "", "LLM base URL")
	f.String("chat-key", "", "LLM API key")
	f.String("model", "gpt-4o-mini", "model used for the structuring pass")
	f.String("token-encoder", "o200k_base", "tiktoken encoding for the prompt budget, empty to estimate")
	f.Int("max-prompt-tokens", graph.DefaultMaxPromptTokens, "token budget for the narrative text")
	f.Duration("llm-timeout", graph.DefaultLLMTimeout, "timeout of a single structuring attempt")
	f.Int("min-mentions", 2, "mentions a locally found entity needs to be kept")
	f.Bool("layout", false, "print the positioned graph")
	addLayoutFlags(f)

	return cmd
}

func aiConfig(v *viper.Viper) setup.AIConfig {
	return setup.AIConfig{
		Adapter:         v.GetString("adapter"),
		ChatURL:         v.GetString("chat-url"),
		ChatKey:         v.GetString("chat-key"),
		ExtractModel:    v.GetString("model"),
		TokenEncoder:    v.GetString("token-encoder"),
		MaxPromptTokens: v.GetInt("max-prompt-tokens"),
		LLMTimeout:      v.GetDuration("llm-timeout"),
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}
