package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cadpipe/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand(ctx))
	cmd.AddCommand(newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Printf("Wrote sample configuration to %s\n", path)
			return nil
		},
	}
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file for problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolved, found, err := config.Load(*ctx.configFlag)
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("No configuration file found; defaults are valid")
				return nil
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Printf("Configuration at %s is valid\n", resolved)
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(cfg)
			}
			rows := [][]string{
				{"Data directory", cfg.Paths.DataDir},
				{"Log directory", cfg.Paths.LogDir},
				{"API bind", cfg.Paths.APIBind},
				{"Storage backend", cfg.Storage.Backend},
				{"Bucket", cfg.Storage.Bucket},
				{"Script extension", cfg.Storage.ScriptExtension},
				{"Signed URL TTL", fmt.Sprintf("%ds", cfg.Storage.SignedURLTTL)},
				{"Poll interval", fmt.Sprintf("%ds", cfg.Monitor.PollInterval)},
				{"Max processing time", fmt.Sprintf("%ds", cfg.Monitor.MaxProcessingTime)},
				{"Failure threshold", fmt.Sprintf("%d", cfg.Monitor.FailureThreshold)},
				{"Allocation retries", fmt.Sprintf("%d", cfg.Allocator.RetryBudget)},
				{"Log format", cfg.Logging.Format},
				{"Log level", cfg.Logging.Level},
			}
			fmt.Println(renderTable([]string{"Setting", "Value"}, rows, nil))
			return nil
		},
	}
}
