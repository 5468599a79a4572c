package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/imgdex/internal/domain"
)

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Delete embedding cache entries no image references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), resolveEnv())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.services.Cache.Reclaim(cmd.Context())
		if err != nil {
			return fmt.Errorf("reclaim: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d cache entries\n", n)
		return nil
	},
}

type statsOutput struct {
	Coverage domain.Coverage   `json:"coverage"`
	Cache    domain.CacheStats `json:"cache"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print vector coverage and embedding cache statistics as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), resolveEnv())
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statsOutput{
			Coverage: a.services.Similarity.Coverage(ctx),
			Cache:    a.services.Cache.Stats(ctx),
		})
	},
}
