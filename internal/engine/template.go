package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/clucraft/phusage-sub000/pkg/models"
)

// ErrNoHistory means no call from the origin was placed in the requested year.
var ErrNoHistory = errors.New("no call history")

// TemplateDestination is a destination share in a derived template.
type TemplateDestination struct {
	Country    string `json:"country"`
	Calls      int64  `json:"calls"`
	Percentage int64  `json:"percentage"`
}

// Template is a scenario profile derived from a year of real traffic.
type Template struct {
	OriginCountry        string                `json:"origin_country"`
	Year                 int                   `json:"year"`
	UserCount            int                   `json:"user_count"`
	MonthsWithData       int                   `json:"months_with_data"`
	TotalCalls           int64                 `json:"total_calls"`
	AvgCallsPerUserMonth decimal.Decimal       `json:"avg_calls_per_user_per_month"`
	AvgMinutesPerCall    decimal.Decimal       `json:"avg_minutes_per_call"`
	Destinations         []TemplateDestination `json:"destinations"`
	DroppedDestinations  int                   `json:"dropped_destinations"`
}

// DeriveTemplate builds a representative profile for origin in year. Only the
// top destinations by call volume are kept and their rounded percentages are
// corrected so they sum to exactly 100.
func DeriveTemplate(records []models.CallRecord, origin string, year int) (*Template, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return nil, fmt.Errorf("%w: origin is required", ErrNoHistory)
	}

	users := make(map[string]struct{})
	months := make(map[int]struct{})
	perDest := make(map[string]int64)
	var calls, seconds int64
	for _, r := range records {
		if strings.TrimSpace(r.OriginCountry) != origin || r.StartedAt.UTC().Year() != year {
			continue
		}
		calls++
		if r.DurationSeconds > 0 {
			seconds += r.DurationSeconds
		}
		users[r.UserEmail] = struct{}{}
		months[int(r.StartedAt.UTC().Month())] = struct{}{}
		if dest := strings.TrimSpace(r.DestinationCountry); dest != "" {
			perDest[dest]++
		}
	}
	if calls == 0 {
		return nil, fmt.Errorf("%w: %s in %d", ErrNoHistory, origin, year)
	}

	t := &Template{
		OriginCountry:  origin,
		Year:           year,
		UserCount:      len(users),
		MonthsWithData: len(months),
		TotalCalls:     calls,
	}
	t.AvgCallsPerUserMonth = decimal.NewFromInt(calls).
		Div(decimal.NewFromInt(int64(len(users)))).
		Div(decimal.NewFromInt(int64(len(months)))).
		Round(MoneyPrecision)
	t.AvgMinutesPerCall = decimal.NewFromInt(seconds).
		Div(secondsPerMinute).
		Div(decimal.NewFromInt(calls)).
		Round(MoneyPrecision)

	dests := make([]TemplateDestination, 0, len(perDest))
	for country, n := range perDest {
		dests = append(dests, TemplateDestination{Country: country, Calls: n})
	}
	sort.Slice(dests, func(i, j int) bool {
		if dests[i].Calls != dests[j].Calls {
			return dests[i].Calls > dests[j].Calls
		}
		return dests[i].Country < dests[j].Country
	})
	if len(dests) > TemplateTopDestinations {
		t.DroppedDestinations = len(dests) - TemplateTopDestinations
		dests = dests[:TemplateTopDestinations]
	}
	t.Destinations = Distribute(dests)
	return t, nil
}

// Distribute assigns each destination its rounded share of the retained call
// volume. The first (largest) destination absorbs the rounding remainder.
// dests must be ordered by Calls descending.
func Distribute(dests []TemplateDestination) []TemplateDestination {
	if len(dests) == 0 {
		return []TemplateDestination{}
	}
	var total int64
	for _, d := range dests {
		total += d.Calls
	}
	if total == 0 {
		return dests
	}
	sum := int64(0)
	for i := range dests {
		dests[i].Percentage = decimal.NewFromInt(dests[i].Calls * 100).
			Div(decimal.NewFromInt(total)).
			Round(0).
			IntPart()
		sum += dests[i].Percentage
	}
	dests[0].Percentage += 100 - sum
	return dests
}

// ScenarioInput pre-fills an estimator scenario from the template.
func (t *Template) ScenarioInput() ScenarioInput {
	in := ScenarioInput{
		OriginCountry:        t.OriginCountry,
		UserCount:            t.UserCount,
		CallsPerUserPerMonth: t.AvgCallsPerUserMonth.InexactFloat64(),
		AvgMinutesPerCall:    t.AvgMinutesPerCall.InexactFloat64(),
		Destinations:         make([]DestinationShare, 0, len(t.Destinations)),
	}
	for _, d := range t.Destinations {
		in.Destinations = append(in.Destinations, DestinationShare{Country: d.Country, Percentage: float64(d.Percentage)})
	}
	return in
}
