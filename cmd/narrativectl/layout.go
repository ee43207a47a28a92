package main

import (
	"encoding/json"
	"fmt"

	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/graph"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func newLayoutCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "layout [graph.json|-]",
		Short:   "Lay out a graph printed by the graph command",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: bindFlags(v),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			var g common.Graph
			if err := json.Unmarshal(raw, &g); err != nil {
				return fmt.Errorf("decode graph: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), graph.Layout(&g, layoutOptions(v)))
		},
	}
	addLayoutFlags(cmd.Flags())
	return cmd
}

func addLayoutFlags(f *pflag.FlagSet) {
	f.Uint64("seed", 0, "layout seed (default derived from the entity ids)")
	f.Int("iterations", graph.DefaultLayoutIterations, "maximum force-directed iterations")
}

func layoutOptions(v *viper.Viper) graph.LayoutOptions {
	opts := graph.LayoutOptions{Iterations: v.GetInt("iterations")}
	if v.IsSet("seed") {
		seed := v.GetUint64("seed")
		opts.Seed = &seed
	}
	return opts
}
