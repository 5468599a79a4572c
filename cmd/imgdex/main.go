package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/imgdex/internal/config"
	"github.com/kailas-cloud/imgdex/internal/version"
)

var envName string

var rootCmd = &cobra.Command{
	Use:   "imgdex",
	Short: "Hybrid retrieval engine for generated image catalogs",
	Long: `imgdex answers catalog queries that mix set-algebra filters over image
metadata with embedding similarity, and keeps a content-addressed cache of
prompt and image embeddings shared between images.

Examples:
  imgdex serve               # run the HTTP API
  ENV=prod imgdex serve      # load config/prod.yaml
  imgdex stats               # print coverage and cache statistics
  imgdex reclaim             # delete unreferenced cache entries`,
	Version:           version.String(),
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "config environment (local, docker, prod); defaults to $ENV")
	rootCmd.AddCommand(serveCmd, reclaimCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveEnv() string {
	if envName != "" {
		return envName
	}
	return config.GetEnv()
}
