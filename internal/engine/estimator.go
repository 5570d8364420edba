package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidScenario is returned when a scenario breaks an input invariant.
// The estimator never clamps bad input.
var ErrInvalidScenario = errors.New("invalid scenario")

// DestinationShare is the share of scenario traffic that goes to a country.
// Percentage is expressed 0-100.
type DestinationShare struct {
	Country    string  `json:"country" valid:"required"`
	Percentage float64 `json:"percentage"`
}

// ScenarioInput is a hypothetical calling profile for a prospective site.
type ScenarioInput struct {
	OriginCountry        string             `json:"origin_country" valid:"required"`
	UserCount            int                `json:"user_count"`
	CallsPerUserPerMonth float64            `json:"calls_per_user_per_month"`
	AvgMinutesPerCall    float64            `json:"avg_minutes_per_call"`
	Destinations         []DestinationShare `json:"destinations"`
	CarrierID            *int64             `json:"carrier_id,omitempty"`
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Validate checks the scenario invariants. Percentages are not required to
// sum to 100.
func (in ScenarioInput) Validate() error {
	if strings.TrimSpace(in.OriginCountry) == "" {
		return fmt.Errorf("%w: origin_country is required", ErrInvalidScenario)
	}
	if in.UserCount < 1 {
		return fmt.Errorf("%w: user_count must be at least 1, got %d", ErrInvalidScenario, in.UserCount)
	}
	if !finite(in.CallsPerUserPerMonth) || in.CallsPerUserPerMonth <= 0 {
		return fmt.Errorf("%w: calls_per_user_per_month must be positive", ErrInvalidScenario)
	}
	if !finite(in.AvgMinutesPerCall) || in.AvgMinutesPerCall <= 0 {
		return fmt.Errorf("%w: avg_minutes_per_call must be positive", ErrInvalidScenario)
	}
	for i, d := range in.Destinations {
		if strings.TrimSpace(d.Country) == "" {
			return fmt.Errorf("%w: destinations[%d].country is required", ErrInvalidScenario, i)
		}
		if !finite(d.Percentage) || d.Percentage < 0 {
			return fmt.Errorf("%w: destinations[%d].percentage must be >= 0", ErrInvalidScenario, i)
		}
	}
	return nil
}

// PercentageTotal returns the sum of the destination shares.
func (in ScenarioInput) PercentageTotal() decimal.Decimal {
	total := decimal.Zero
	for _, d := range in.Destinations {
		total = total.Add(decimal.NewFromFloat(d.Percentage))
	}
	return total
}

// DestinationEstimate is one row of the scenario breakdown.
type DestinationEstimate struct {
	Country        string          `json:"country"`
	Percentage     decimal.Decimal `json:"percentage"`
	Calls          int64           `json:"calls"`
	Minutes        int64           `json:"minutes"`
	PricePerMinute decimal.Decimal `json:"price_per_minute"`
	RateFound      bool            `json:"rate_found"`
	Tier           Tier            `json:"tier"`
	Cost           decimal.Decimal `json:"cost"`

	exact decimal.Decimal
}

// ScenarioResult is the projected monthly and yearly cost of a scenario.
type ScenarioResult struct {
	Input                ScenarioInput         `json:"input"`
	TotalMonthlyCalls    decimal.Decimal       `json:"total_monthly_calls"`
	TotalMonthlyMinutes  decimal.Decimal       `json:"total_monthly_minutes"`
	Breakdown            []DestinationEstimate `json:"breakdown"`
	MonthlyCost          decimal.Decimal       `json:"monthly_cost"`
	YearlyCost           decimal.Decimal       `json:"yearly_cost"`
	CostPerUser          decimal.Decimal       `json:"cost_per_user"`
	PercentageTotal      decimal.Decimal       `json:"percentage_total"`
	UnpricedDestinations []string              `json:"unpriced_destinations"`
}

// Estimate projects the cost of a scenario against the catalog.
func Estimate(in ScenarioInput, cat *Catalog) (*ScenarioResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	users := decimal.NewFromInt(int64(in.UserCount))
	totalCalls := users.Mul(decimal.NewFromFloat(in.CallsPerUserPerMonth))
	totalMinutes := totalCalls.Mul(decimal.NewFromFloat(in.AvgMinutesPerCall))

	result := &ScenarioResult{
		Input:                in,
		TotalMonthlyCalls:    totalCalls,
		TotalMonthlyMinutes:  totalMinutes,
		Breakdown:            make([]DestinationEstimate, 0, len(in.Destinations)),
		PercentageTotal:      in.PercentageTotal(),
		UnpricedDestinations: []string{},
	}

	monthly := decimal.Zero
	for _, d := range in.Destinations {
		share := decimal.NewFromFloat(d.Percentage).Div(hundred)
		calls := totalCalls.Mul(share).Round(0)
		minutes := totalMinutes.Mul(share).Round(0)

		country := strings.TrimSpace(d.Country)
		res := cat.Resolve(in.OriginCountry, country, DefaultCallType, in.CarrierID)
		cost := decimal.Zero
		if res.Found {
			cost = minutes.Mul(res.PricePerMinute)
		} else {
			result.UnpricedDestinations = append(result.UnpricedDestinations, country)
		}
		monthly = monthly.Add(cost)

		result.Breakdown = append(result.Breakdown, DestinationEstimate{
			Country:        country,
			Percentage:     decimal.NewFromFloat(d.Percentage),
			Calls:          calls.IntPart(),
			Minutes:        minutes.IntPart(),
			PricePerMinute: res.PricePerMinute,
			RateFound:      res.Found,
			Tier:           res.Tier,
			Cost:           RoundMoney(cost),
			exact:          cost,
		})
	}

	sort.SliceStable(result.Breakdown, func(i, j int) bool {
		a, b := result.Breakdown[i], result.Breakdown[j]
		if c := a.exact.Cmp(b.exact); c != 0 {
			return c > 0
		}
		return a.Country < b.Country
	})
	sort.Strings(result.UnpricedDestinations)

	result.MonthlyCost = RoundMoney(monthly)
	result.YearlyCost = result.MonthlyCost.Mul(monthsPerYear)
	result.CostPerUser = RoundMoney(result.MonthlyCost.Div(users))
	return result, nil
}
