package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fentz26/worktrace/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the worktrace configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var (
	initFormat string
	initForce  bool
	showJSON   bool
)

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)

	configInitCmd.Flags().StringVar(&initFormat, "format", "yaml", "File format: yaml or toml")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")

	configShowCmd.Flags().BoolVar(&showJSON, "json", false, "Print as JSON instead of YAML")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home dir: %w", err)
		}
		switch initFormat {
		case "yaml":
			path = filepath.Join(home, config.DirName, "config.yaml")
		case "toml":
			path = filepath.Join(home, config.DirName, "config.toml")
		default:
			return fmt.Errorf("unknown format %q (want yaml or toml)", initFormat)
		}
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.Save(path, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if showJSON {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
