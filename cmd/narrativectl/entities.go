package main

import (
	"slices"

	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/ner"

	"github.com/spf13/cobra"
)

func newEntitiesCmd() *cobra.Command {
	type entitiesOutput struct {
		Candidates []common.Candidate `json:"candidates"`
		Themes     []string           `json:"themes"`
	}

	return &cobra.Command{
		Use:   "entities [file|-]",
		Short: "Print the locally extracted entity candidates and themes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			seq, err := ner.NewProseExtractor().Extract(cmd.Context(), string(text))
			if err != nil {
				return err
			}
			out := entitiesOutput{
				Candidates: slices.Collect(seq),
				Themes:     ner.DetectThemes(string(text)),
			}
			if out.Candidates == nil {
				out.Candidates = []common.Candidate{}
			}
			if out.Themes == nil {
				out.Themes = []string{}
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}
