// Package cli provides the phusage command line: the HTTP server and
// one-shot report, estimate and catalog maintenance commands.
package cli

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/clucraft/phusage-sub000/internal/config"
	"github.com/clucraft/phusage-sub000/internal/logger"
)

var (
	cfgFile   string
	logLevel  string
	storeFlag string
	jsonOut   bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "phusage",
	Short: "Teams PSTN usage and cost reporting",
	Long: `phusage matches Teams PSTN calls to carrier rates and reports their cost.

Examples:
  phusage serve
  phusage report --group-by destination --top 10
  phusage trend --from 2025-01-01 --to 2025-12-31
  phusage estimate --origin USA --users 10 --calls 20 --minutes 5 --dest Germany=60 --dest India=40`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (overrides PHUSAGE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "storage backend (postgres, sqlite, memory)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(serveCmd, migrateCmd, reportCmd, trendCmd, userCmd,
		estimateCmd, templateCmd, ratesCmd, importCmd, versionCmd)
}

func initConfig(cmd *cobra.Command, _ []string) error {
	if cfgFile != "" {
		if err := os.Setenv("PHUSAGE_CONFIG", cfgFile); err != nil {
			return err
		}
	}
	if storeFlag != "" {
		if err := os.Setenv("PHUSAGE_STORE", storeFlag); err != nil {
			return err
		}
	}
	if logLevel != "" {
		if err := os.Setenv("PHUSAGE_LOG_LEVEL", logLevel); err != nil {
			return err
		}
	}

	loaded, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = loaded

	if err := logger.InitLog(cfg.LogLevel, false); err != nil {
		return err
	}
	decimal.MarshalJSONWithoutQuotes = true
	logger.CfgLog.Debugf("effective configuration:\n%s", cfg.Dump())
	logger.CLILog.Debugf("running %s", cmd.CommandPath())
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "phusage version %s\n", version)
	},
}
