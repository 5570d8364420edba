package cli

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/clucraft/phusage-sub000/internal/engine"
	"github.com/clucraft/phusage-sub000/internal/report"
)

var (
	reportFilter  filterFlags
	reportGroupBy string
	reportTop     int

	trendFilter filterFlags
	trendHeight int

	userFilter filterFlags
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show call costs grouped by user, destination, origin or month",
	Long: `Show call costs grouped by one dimension.

Calls with no usable rate are counted but contribute zero cost. Calls missing
the grouping attribute land in the "Unknown" bucket.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := reportFilter.filter()
		if err != nil {
			return err
		}
		groupBy, err := engine.ParseGroupBy(reportGroupBy)
		if err != nil {
			return err
		}
		return withService(cmd.Context(), func(svc *report.Service) error {
			rep, err := svc.Costs(cmd.Context(), groupBy, f)
			if err != nil {
				return err
			}
			if reportTop > 0 {
				rep.Buckets = engine.TopN(rep.Buckets, reportTop)
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, rep)
			}
			fmt.Fprintf(out, "%d calls, %d minutes, %s total, %d users, %d unpriced\n\n",
				rep.Summary.TotalCalls, rep.Summary.TotalMinutes, money(rep.Summary.TotalCost),
				rep.Summary.DistinctUsers, rep.Summary.UnpricedCalls)
			return writeBuckets(out, rep.Buckets)
		})
	},
}

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Plot monthly call cost",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := trendFilter.filter()
		if err != nil {
			return err
		}
		return withService(cmd.Context(), func(svc *report.Service) error {
			months, err := svc.Trend(cmd.Context(), f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, months)
			}
			if len(months) == 0 {
				fmt.Fprintln(out, "no calls in range")
				return nil
			}
			fmt.Fprintln(out, plotTrend(months, trendHeight))
			fmt.Fprintln(out)
			return writeBuckets(out, months)
		})
	},
}

// plotTrend renders monthly cost as an ASCII line chart.
func plotTrend(months []engine.Bucket, height int) string {
	data := make([]float64, len(months))
	for i, m := range months {
		data[i] = m.TotalCost.InexactFloat64()
	}
	if len(data) == 1 {
		// asciigraph needs two points to draw a line
		data = append(data, data[0])
	}
	caption := fmt.Sprintf("monthly cost %s .. %s", months[0].Key, months[len(months)-1].Key)
	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(max(len(data)*4, 24)),
		asciigraph.Caption(caption))
}

var userCmd = &cobra.Command{
	Use:   "user <email-or-fragment>",
	Short: "Show one user's calls and costs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := userFilter.filter()
		if err != nil {
			return err
		}
		return withService(cmd.Context(), func(svc *report.Service) error {
			d, err := svc.User(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, d)
			}
			fmt.Fprintf(out, "%s <%s>\n", d.Name, strings.Join(d.Emails, ", "))
			fmt.Fprintf(out, "%d calls, %d minutes, %s total\n\n",
				d.Summary.TotalCalls, d.Summary.TotalMinutes, money(d.Summary.TotalCost))

			tw := newTable(out)
			fmt.Fprintln(tw, "STARTED\tDESTINATION\tSECONDS\tRATE\tCOST")
			for _, c := range d.Calls {
				rate := "-"
				if c.RateFound {
					rate = c.PricePerMinute.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					c.StartedAt.UTC().Format("2006-01-02 15:04"), orDash(c.DestinationCountry),
					c.DurationSeconds, rate, money(c.Cost))
			}
			return tw.Flush()
		})
	},
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func init() {
	reportFilter.register(reportCmd)
	reportCmd.Flags().StringVar(&reportGroupBy, "group-by", "user", "user, destination, origin or month")
	reportCmd.Flags().IntVar(&reportTop, "top", 0, "only show the N most expensive buckets")

	trendFilter.register(trendCmd)
	trendCmd.Flags().IntVar(&trendHeight, "height", 10, "chart height in rows")

	userFilter.register(userCmd)
}
