package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/kestrel/internal/config"
	"github.com/msageha/kestrel/internal/daemon"
	"github.com/msageha/kestrel/internal/engine"
	"github.com/msageha/kestrel/internal/setup"
	"github.com/msageha/kestrel/internal/status"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   "kestrel",
		Short: "Admission daemon for held workflows",
		Long: "kestrel watches a workflow engine for submissions parked On Hold and\n" +
			"releases them one per cycle, aborting submissions superseded by a newer\n" +
			"version of the same bundle.",
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to kestrel.yaml (default: ./kestrel.yaml, /etc/kestrel/kestrel.yaml)")

	// serve
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admission daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(cfgPath)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			client, err := buildClient(cfg)
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg, client, version)
			if err != nil {
				return err
			}
			d.SetLoader(loader)
			return d.Run()
		},
	}
	rootCmd.AddCommand(serveCmd)

	// init
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			engineURL, _ := cmd.Flags().GetString("engine-url")
			path, err := setup.Run(dir, engineURL)
			if err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().String("dir", ".", "Directory to write kestrel.yaml into")
	initCmd.Flags().String("engine-url", "", "Engine base URL to preset in the generated file")
	rootCmd.AddCommand(initCmd)

	// check
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and probe the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader(cfgPath).Load()
			if err != nil {
				return err
			}
			fmt.Println("config ok")
			fmt.Printf("  engine:           %s (api %s, auth %s)\n", cfg.Engine.URL, cfg.Engine.APIVersion, cfg.Engine.Auth.Mode)
			fmt.Printf("  poll interval:    %s\n", cfg.QueueHandler.PollInterval())
			fmt.Printf("  release interval: %s\n", cfg.Igniter.ReleaseInterval())

			client, err := buildClient(cfg)
			if err != nil {
				return err
			}
			resp, err := client.Query(cmd.Context(), engine.HeldWorkflows())
			if err != nil {
				return fmt.Errorf("engine unreachable: %w", err)
			}
			if !resp.Success() {
				return fmt.Errorf("engine rejected query: status %d", resp.StatusCode)
			}
			fmt.Println("engine ok")
			return nil
		},
	}
	rootCmd.AddCommand(checkCmd)

	// status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOutput, _ := cmd.Flags().GetBool("json")
			cfg, err := config.NewLoader(cfgPath).Load()
			if err != nil {
				return err
			}
			return status.Run(cfg.Health.Addr, cfg.Daemon.LockFile, jsonOutput)
		},
	}
	statusCmd.Flags().Bool("json", false, "Output status as JSON")
	rootCmd.AddCommand(statusCmd)

	// version
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the kestrel version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kestrel %s\n", version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildClient(cfg config.Config) (*engine.Client, error) {
	auth, err := buildAuth(cfg.Engine.Auth)
	if err != nil {
		return nil, err
	}
	return engine.NewClient(cfg.Engine.URL, cfg.Engine.APIVersion, auth), nil
}

func buildAuth(cfg config.AuthConfig) (engine.Auth, error) {
	switch cfg.Mode {
	case config.AuthModeBasic:
		return engine.BasicAuth(cfg.Username, cfg.Password), nil
	case config.AuthModeServiceAccount:
		return engine.ServiceAccountAuth(cfg.KeyFile)
	default:
		return engine.NoAuth(), nil
	}
}
