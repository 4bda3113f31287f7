package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pflow-dev/pflow/cli"
	"github.com/pflow-dev/pflow/llmadapter"
	"github.com/pflow-dev/pflow/registry"
	"github.com/pflow-dev/pflow/settings"
	"github.com/pflow-dev/pflow/worklib"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Error())
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "pflow",
	Short:        "pflow workflow runtime CLI",
	Long:         "pflow — a declarative node-graph workflow runtime: compile, run, and plan workflows from the command line.",
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("pflow version %s\n", version))

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	stateDir := filepath.Join(home, ".pflow")

	reg := registry.NewAtPath(filepath.Join(stateDir, "registry.json"))
	registry.RegisterBuiltins(reg)
	if err := reg.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: loading registry: %v\n", err)
	}

	settingsStore, err := settings.Open(filepath.Join(stateDir, "settings.json"))
	var cfg settings.Settings
	if err == nil {
		if loaded, loadErr := settingsStore.Load(); loadErr == nil {
			cfg = loaded
		}
	}

	lib, err := worklib.Open(filepath.Join(stateDir, "workflows.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: opening workflow library: %v\n", err)
	}

	var llmClient llmadapter.Client
	if cfg.LLMAPIKey != "" {
		llmClient = llmadapter.NewHTTPClient(cfg.LLMAPIKey, cfg.LLMBaseURL)
	}

	rootCmd.AddCommand(cli.NewRunCmd(reg, cli.CoreFactory))
	rootCmd.AddCommand(cli.NewValidateCmd(reg))
	rootCmd.AddCommand(cli.NewScanCmd(reg))
	rootCmd.AddCommand(cli.NewRegistryCmd(reg))
	if lib != nil && llmClient != nil {
		rootCmd.AddCommand(cli.NewPlanCmd(llmClient, lib, reg))
	}
}
