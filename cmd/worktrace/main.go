package main

import (
	"fmt"
	"os"

	"github.com/fentz26/worktrace/internal/app"
	"github.com/fentz26/worktrace/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "worktrace",
	Short: "worktrace - IDE activity tracker",
	Long: `worktrace turns IDE events into timed activity intervals (application open,
window active, user active, perspective, reading, typing and test runs) and
keeps them in durable local stores.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the worktrace version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(app.Version)
	},
}

var (
	apiAddr    string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7467", "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.worktrace/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(intervalsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config, or the home config when the flag is unset.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadFromHome()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
