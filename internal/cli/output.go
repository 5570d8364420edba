package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/clucraft/phusage-sub000/internal/engine"
)

const dateLayout = "2006-01-02"

// filterFlags are shared by every command that reads call history.
type filterFlags struct {
	from    string
	to      string
	carrier int64
}

func (ff *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&ff.from, "from", "", "first day to include (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&ff.to, "to", "", "last day to include (YYYY-MM-DD or RFC3339)")
	cmd.Flags().Int64Var(&ff.carrier, "carrier", 0, "carrier id to price against")
}

func (ff *filterFlags) filter() (engine.Filter, error) {
	var f engine.Filter
	var err error
	if f.From, err = parseDate(ff.from, false); err != nil {
		return f, fmt.Errorf("--from: %w", err)
	}
	if f.To, err = parseDate(ff.to, true); err != nil {
		return f, fmt.Errorf("--to: %w", err)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, errors.New("--to is before --from")
	}
	if ff.carrier < 0 {
		return f, errors.New("--carrier must be positive")
	}
	if ff.carrier > 0 {
		id := ff.carrier
		f.CarrierID = &id
	}
	return f, nil
}

// parseDate accepts RFC3339 or a bare UTC date. A bare date used as an upper
// bound covers the whole day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC3339", s)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

// parseDestinations reads repeated Country=Percentage pairs.
func parseDestinations(pairs []string) ([]engine.DestinationShare, error) {
	out := make([]engine.DestinationShare, 0, len(pairs))
	for _, p := range pairs {
		i := strings.LastIndex(p, "=")
		if i <= 0 {
			return nil, fmt.Errorf("invalid destination %q: want Country=Percentage", p)
		}
		country := strings.TrimSpace(p[:i])
		pct, err := strconv.ParseFloat(strings.TrimSpace(p[i+1:]), 64)
		if country == "" || err != nil {
			return nil, fmt.Errorf("invalid destination %q: want Country=Percentage", p)
		}
		out = append(out, engine.DestinationShare{Country: country, Percentage: pct})
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(engine.MoneyPrecision)
}

func writeBuckets(w io.Writer, b []engine.Bucket) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "KEY\tLABEL\tCALLS\tMINUTES\tCOST\tUSERS\tUNPRICED")
	for _, x := range b {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%d\t%d\n",
			x.Key, x.Label, x.TotalCalls, x.TotalMinutes, money(x.TotalCost), x.DistinctUsers, x.UnpricedCalls)
	}
	return tw.Flush()
}
