package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/clucraft/phusage-sub000/internal/engine"
	"github.com/clucraft/phusage-sub000/internal/report"
)

var hundredPercent = decimal.NewFromInt(100)

var (
	estOrigin  string
	estUsers   int
	estCalls   float64
	estMinutes float64
	estDests   []string
	estCarrier int64

	tplOrigin   string
	tplYear     int
	tplEstimate bool
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Project the monthly and yearly cost of a hypothetical site",
	Long: `Project the cost of a calling scenario against the current rate catalog.

Destination shares are given as repeated --dest Country=Percentage flags and
are not required to add up to 100.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dests, err := parseDestinations(estDests)
		if err != nil {
			return err
		}
		in := engine.ScenarioInput{
			OriginCountry:        estOrigin,
			UserCount:            estUsers,
			CallsPerUserPerMonth: estCalls,
			AvgMinutesPerCall:    estMinutes,
			Destinations:         dests,
		}
		if estCarrier > 0 {
			id := estCarrier
			in.CarrierID = &id
		}
		if err := in.Validate(); err != nil {
			return err
		}
		return withService(cmd.Context(), func(svc *report.Service) error {
			res, err := svc.Estimate(cmd.Context(), in)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			return writeEstimate(cmd.OutOrStdout(), res)
		})
	},
}

func writeEstimate(w io.Writer, res *engine.ScenarioResult) error {
	fmt.Fprintf(w, "%s: %d users, %s calls and %s minutes per month\n\n",
		res.Input.OriginCountry, res.Input.UserCount,
		res.TotalMonthlyCalls.StringFixed(1), res.TotalMonthlyMinutes.StringFixed(1))

	tw := newTable(w)
	fmt.Fprintln(tw, "DESTINATION\tSHARE\tCALLS\tMINUTES\tRATE\tTIER\tCOST")
	for _, d := range res.Breakdown {
		rate := "-"
		if d.RateFound {
			rate = d.PricePerMinute.String()
		}
		fmt.Fprintf(tw, "%s\t%s%%\t%d\t%d\t%s\t%s\t%s\n",
			d.Country, d.Percentage.String(), d.Calls, d.Minutes, rate, d.Tier, money(d.Cost))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nmonthly %s, yearly %s, per user %s\n",
		money(res.MonthlyCost), money(res.YearlyCost), money(res.CostPerUser))
	if !res.PercentageTotal.Equal(hundredPercent) {
		fmt.Fprintf(w, "note: destination shares add up to %s%%\n", res.PercentageTotal.String())
	}
	if len(res.UnpricedDestinations) > 0 {
		fmt.Fprintf(w, "warning: no rate for %s\n", strings.Join(res.UnpricedDestinations, ", "))
	}
	return nil
}

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Derive a scenario template from a site's call history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		year := tplYear
		if year == 0 {
			year = time.Now().UTC().Year()
		}
		return withService(cmd.Context(), func(svc *report.Service) error {
			tpl, err := svc.Template(cmd.Context(), tplOrigin, year)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if tplEstimate {
				res, err := svc.Estimate(cmd.Context(), tpl.ScenarioInput())
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(out, res)
				}
				return writeEstimate(out, res)
			}
			if jsonOut {
				return printJSON(out, tpl)
			}
			fmt.Fprintf(out, "%s %d: %d users, %d calls over %d months\n",
				tpl.OriginCountry, tpl.Year, tpl.UserCount, tpl.TotalCalls, tpl.MonthsWithData)
			fmt.Fprintf(out, "%s calls per user per month, %s minutes per call\n\n",
				tpl.AvgCallsPerUserMonth.String(), tpl.AvgMinutesPerCall.String())
			tw := newTable(out)
			fmt.Fprintln(tw, "DESTINATION\tCALLS\tSHARE")
			for _, d := range tpl.Destinations {
				fmt.Fprintf(tw, "%s\t%d\t%d%%\n", d.Country, d.Calls, d.Percentage)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if tpl.DroppedDestinations > 0 {
				fmt.Fprintf(out, "\n%d smaller destinations not shown\n", tpl.DroppedDestinations)
			}
			return nil
		})
	},
}

func init() {
	f := estimateCmd.Flags()
	f.StringVar(&estOrigin, "origin", "", "origin country of the site")
	f.IntVar(&estUsers, "users", 0, "number of users")
	f.Float64Var(&estCalls, "calls", 0, "calls per user per month")
	f.Float64Var(&estMinutes, "minutes", 0, "average minutes per call")
	f.StringArrayVar(&estDests, "dest", nil, "destination share as Country=Percentage (repeatable)")
	f.Int64Var(&estCarrier, "carrier", 0, "carrier id to price against")
	_ = estimateCmd.MarkFlagRequired("origin")

	tf := templateCmd.Flags()
	tf.StringVar(&tplOrigin, "origin", "", "origin country of the site")
	tf.IntVar(&tplYear, "year", 0, "calendar year (defaults to the current UTC year)")
	tf.BoolVar(&tplEstimate, "estimate", false, "run the estimator on the derived template")
	_ = templateCmd.MarkFlagRequired("origin")
}
