package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/rankfuse/internal/config"
	"github.com/Aman-CERP/rankfuse/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage run configuration",
		Long: `Manage the run configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/rankfuse/config.yaml)
  3. The file passed with --config
  4. Environment variables (RANKFUSE_*)`,
		Example: `  # Write the defaults to the user config
  rankfuse config init

  # Write the defaults to an experiment file
  rankfuse config init exp/rrf.yaml

  # Show the effective configuration
  rankfuse config show -c exp/rrf.yaml

  # Check a config without running anything
  rankfuse config validate -c exp/rrf.yaml`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write the default configuration to a file",
		Long: `Write the default configuration as YAML. Without PATH the user config
file is written. An existing file is kept unless --force is given, in which
case it is backed up first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.GetUserConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			return runConfigInit(cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file (a backup is kept)")

	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warning("Configuration already exists")
			out.Statusf("->", "Location: %s", path)
			out.Status("", "Use --force to overwrite it (a backup is kept)")
			return nil
		}
		backupPath, err := config.BackupFile(path)
		if err != nil {
			return err
		}
		out.Statusf("->", "Backup: %s", backupPath)
	}

	if err := config.NewConfig().WriteYAML(path); err != nil {
		return err
	}

	out.Success("Created configuration")
	out.Statusf("->", "Location: %s", path)
	out.Status("", "Edit it, then check with 'rankfuse config validate -c "+path+"'")
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var (
		configPath string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration without running anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.Success("Configuration is valid")
			out.KeyValue("Retrieval", fmt.Sprintf("%s (top_k %d)", cfg.Retrieval.Type, cfg.Retrieval.TopK))
			if cfg.Rerank.Enabled {
				out.KeyValue("Rerank", fmt.Sprintf("%s via %s (candidate_k %d, out_k %d)",
					cfg.Rerank.Mode, cfg.Rerank.Provider, cfg.Rerank.CandidateK, cfg.Rerank.TopK))
			} else {
				out.KeyValue("Rerank", "disabled")
			}
			out.KeyValue("Index", cfg.Retrieval.IndexDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
