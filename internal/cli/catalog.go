package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clucraft/phusage-sub000/internal/logger"
	"github.com/clucraft/phusage-sub000/internal/report"
	"github.com/clucraft/phusage-sub000/pkg/models"
)

var ratesOrigin string

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "List or import carrier rates",
}

var ratesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rate catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *report.Service) error {
			rates, err := svc.Rates(cmd.Context(), ratesOrigin)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, rates)
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "ID\tORIGIN\tDESTINATION\tCOUNTRY\tTYPE\tPRICE\tCARRIER")
			for _, r := range rates {
				carrier := "-"
				if r.CarrierID != nil {
					carrier = fmt.Sprint(*r.CarrierID)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.OriginCountry, r.DestinationLabel, r.DestCountry(), r.CallType,
					r.PricePerMinute.String(), carrier)
			}
			return tw.Flush()
		})
	},
}

var ratesImportCmd = &cobra.Command{
	Use:   "import <rates.json>",
	Short: "Upsert rates from a JSON array",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rates []models.RateEntry
		if err := readJSONFile(args[0], &rates); err != nil {
			return err
		}
		return withService(cmd.Context(), func(svc *report.Service) error {
			n, err := svc.ImportRates(cmd.Context(), rates)
			if err != nil {
				return fmt.Errorf("imported %d rates before failing: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rates\n", n)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import classified call records",
}

var importCallsCmd = &cobra.Command{
	Use:   "calls <calls.json>",
	Short: "Insert call records from a JSON array",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var calls []models.CallRecord
		if err := readJSONFile(args[0], &calls); err != nil {
			return err
		}
		return withService(cmd.Context(), func(svc *report.Service) error {
			n, err := svc.ImportCalls(cmd.Context(), calls)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d calls\n", n)
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Long:  "Create or upgrade the database schema. Opening a store migrates it, so this only opens and closes the configured backend.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		logger.CLILog.Infof("%s schema is up to date", cfg.Store)
		return st.Close()
	},
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func init() {
	ratesListCmd.Flags().StringVar(&ratesOrigin, "origin", "", "only list rates for this origin country")
	ratesCmd.AddCommand(ratesListCmd, ratesImportCmd)
	importCmd.AddCommand(importCallsCmd)
}
