package engine

import (
	"errors"
	"math"
	"testing"
)

func usaScenario() ScenarioInput {
	return ScenarioInput{
		OriginCountry:        "USA",
		UserCount:            10,
		CallsPerUserPerMonth: 20,
		AvgMinutesPerCall:    5,
		Destinations: []DestinationShare{
			{Country: "Germany", Percentage: 60},
			{Country: "India", Percentage: 40},
		},
	}
}

func TestEstimateScenarioExample(t *testing.T) {
	res, err := Estimate(usaScenario(), NewCatalog(fixtureRates()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !res.TotalMonthlyCalls.Equal(d("200")) || !res.TotalMonthlyMinutes.Equal(d("1000")) {
		t.Errorf("unexpected totals: calls=%s minutes=%s", res.TotalMonthlyCalls, res.TotalMonthlyMinutes)
	}
	if len(res.Breakdown) != 2 {
		t.Fatalf("expected 2 destinations, got %d", len(res.Breakdown))
	}

	// India costs more and is listed first.
	india, germany := res.Breakdown[0], res.Breakdown[1]
	if india.Country != "India" || india.Minutes != 400 || india.Calls != 80 || !india.Cost.Equal(d("20.00")) {
		t.Errorf("unexpected India bucket: %+v", india)
	}
	if germany.Country != "Germany" || germany.Minutes != 600 || germany.Calls != 120 || !germany.Cost.Equal(d("12.00")) {
		t.Errorf("unexpected Germany bucket: %+v", germany)
	}

	checks := map[string][2]string{
		"monthly":  {res.MonthlyCost.String(), "32"},
		"yearly":   {res.YearlyCost.String(), "384"},
		"per user": {res.CostPerUser.String(), "3.2"},
	}
	for name, c := range checks {
		if !d(c[0]).Equal(d(c[1])) {
			t.Errorf("%s: expected %s, got %s", name, c[1], c[0])
		}
	}
	if len(res.UnpricedDestinations) != 0 {
		t.Errorf("expected every lane priced, got %v", res.UnpricedDestinations)
	}
}

func TestEstimateUnpricedAndUnbalanced(t *testing.T) {
	in := usaScenario()
	in.Destinations = []DestinationShare{
		{Country: "Germany", Percentage: 50},
		{Country: "Brazil", Percentage: 30},
	}
	res, err := Estimate(in, NewCatalog(fixtureRates()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.PercentageTotal.Equal(d("80")) {
		t.Errorf("expected percentage total 80, got %s", res.PercentageTotal)
	}
	if len(res.UnpricedDestinations) != 1 || res.UnpricedDestinations[0] != "Brazil" {
		t.Errorf("expected Brazil unpriced, got %v", res.UnpricedDestinations)
	}
	// 500 minutes at 0.02; Brazil contributes nothing.
	if !res.MonthlyCost.Equal(d("10")) {
		t.Errorf("expected monthly 10.00, got %s", res.MonthlyCost)
	}
	brazil := res.Breakdown[1]
	if brazil.RateFound || brazil.Minutes != 300 {
		t.Errorf("unexpected Brazil bucket: %+v", brazil)
	}
}

func TestEstimateRoundsHalfAwayFromZero(t *testing.T) {
	in := ScenarioInput{
		OriginCountry:        "USA",
		UserCount:            1,
		CallsPerUserPerMonth: 5,
		AvgMinutesPerCall:    1,
		Destinations:         []DestinationShare{{Country: "Germany", Percentage: 50}},
	}
	res, err := Estimate(in, NewCatalog(fixtureRates()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Breakdown[0].Calls != 3 || res.Breakdown[0].Minutes != 3 {
		t.Errorf("expected 2.5 to round to 3, got %+v", res.Breakdown[0])
	}
}

func TestEstimateInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ScenarioInput)
	}{
		{"missing origin", func(in *ScenarioInput) { in.OriginCountry = " " }},
		{"zero users", func(in *ScenarioInput) { in.UserCount = 0 }},
		{"negative users", func(in *ScenarioInput) { in.UserCount = -3 }},
		{"zero calls", func(in *ScenarioInput) { in.CallsPerUserPerMonth = 0 }},
		{"negative minutes", func(in *ScenarioInput) { in.AvgMinutesPerCall = -1 }},
		{"nan minutes", func(in *ScenarioInput) { in.AvgMinutesPerCall = math.NaN() }},
		{"negative share", func(in *ScenarioInput) { in.Destinations[0].Percentage = -5 }},
		{"blank destination", func(in *ScenarioInput) { in.Destinations[1].Country = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := usaScenario()
			tt.mutate(&in)
			if _, err := Estimate(in, NewCatalog(fixtureRates())); !errors.Is(err, ErrInvalidScenario) {
				t.Errorf("expected ErrInvalidScenario, got %v", err)
			}
		})
	}
}

func TestEstimateCarrier(t *testing.T) {
	rates := fixtureRates()
	special := rate(30, "USA", "Germany", "Outbound", "0.01")
	special.CarrierID = i64(4)
	rates = append(rates, special)

	in := usaScenario()
	in.CarrierID = i64(4)
	res, err := Estimate(in, NewCatalog(rates))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Only Germany is priced for carrier 4: 600 minutes at 0.01.
	if !res.MonthlyCost.Equal(d("6")) {
		t.Errorf("expected monthly 6.00, got %s", res.MonthlyCost)
	}
	if len(res.UnpricedDestinations) != 1 || res.UnpricedDestinations[0] != "India" {
		t.Errorf("expected India unpriced, got %v", res.UnpricedDestinations)
	}
}
