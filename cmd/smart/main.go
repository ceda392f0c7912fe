// Command smart is the CLI for the smart-insurance research daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/api"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/config"
)

// Version is set at build time
var Version = "dev"

var cfg *config.Config

func client() *api.Client {
	addr := cfg.Daemon.Listen
	if v := os.Getenv("SMARTD_ADDR"); v != "" {
		addr = v
	}
	return api.NewClient("http://" + addr)
}

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "smart",
	Short: "Research insurance costs across a PE firm's portfolio",
	Long: `smart drives the smart-insurance research daemon.

A pipeline walks a private equity firm through three stages: portfolio
research, legal entity resolution, and Form 5500 / Schedule A data
extraction, ending in a firm report.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

func init() {
	rootCmd.AddCommand(
		newCmd,
		runCmd,
		listCmd,
		statusCmd,
		resumeCmd,
		cancelCmd,
		reportCmd,
		deleteCmd,
		versionCmd,
	)
	runCmd.Flags().Bool("all", false, "run all remaining stages to completion")
	reportCmd.Flags().StringP("out", "o", "", "write the report to a file instead of stdout")
}
