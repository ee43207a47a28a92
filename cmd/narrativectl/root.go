package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/narrativeiq/backend/pkg/logger"
	"github.com/narrativeiq/backend/pkg/logger/console"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCmd builds the command tree. Every flag can also be set through a
// NARRATIVE_ prefixed environment variable or the config file.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "narrativectl",
		Short: "Narrative graph tooling",
		Long: `narrativectl runs the narrative graph pipeline outside the server.

It extracts graphs from text files, lays out existing graphs and applies
database migrations. No credits are charged.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(v, cfgFile); err != nil {
				return err
			}
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug:  v.GetBool("debug"),
				Format: v.GetString("log-format"),
				Output: cmd.ErrOrStderr(),
			}))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.narrativectl.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	cobra.CheckErr(v.BindPFlags(rootCmd.PersistentFlags()))

	rootCmd.AddCommand(
		newGraphCmd(v),
		newLayoutCmd(v),
		newEntitiesCmd(),
		newMigrateCmd(v),
	)
	return rootCmd
}

func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".narrativectl")
	}

	v.SetEnvPrefix("NARRATIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// bindFlags binds the flags of the command that actually runs. Subcommands
// share flag names, so binding at construction would let the last one win.
func bindFlags(v *viper.Viper) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return v.BindPFlags(cmd.Flags())
	}
}

// readInput reads a file argument, or stdin when it is "-" or missing.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
