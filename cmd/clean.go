package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/splitwire/internal/output"
)

var cleanCache string

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the local asset cache database",
	Run: func(cmd *cobra.Command, args []string) {
		if cleanCache == "" {
			output.PrintError("No cache path provided")
			os.Exit(1)
		}
		if _, err := os.Stat(cleanCache); os.IsNotExist(err) {
			output.PrintInfo("Nothing to clean")
			return
		}
		if err := os.Remove(cleanCache); err != nil {
			output.PrintError("Failed to remove cache database")
			os.Exit(1)
		}
		output.PrintSuccess("Cache database removed")
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().StringVar(&cleanCache, "cache", "", "Path to the cache database to remove")
}
