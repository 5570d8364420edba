package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/clucraft/phusage-sub000/pkg/models"
)

func sharesOf(counts ...int64) []TemplateDestination {
	out := make([]TemplateDestination, len(counts))
	for i, c := range counts {
		out[i] = TemplateDestination{Country: fmt.Sprintf("C%02d", i), Calls: c}
	}
	return out
}

func sum(dests []TemplateDestination) int64 {
	var s int64
	for _, d := range dests {
		s += d.Percentage
	}
	return s
}

func TestDistributeCorrectsRounding(t *testing.T) {
	tests := []struct {
		name    string
		counts  []int64
		largest int64
	}{
		// Raw rounded shares sum to 97: 27 + 7x10.
		{"under", []int64{272, 104, 104, 104, 104, 104, 104, 104}, 30},
		// Raw rounded shares sum to 103: 26 + 7x11.
		{"over", []int64{258, 106, 106, 106, 106, 106, 106, 106}, 23},
		{"exact", []int64{50, 30, 20}, 50},
		{"single", []int64{7}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distribute(sharesOf(tt.counts...))
			if s := sum(got); s != 100 {
				t.Errorf("expected shares to sum to 100, got %d", s)
			}
			if got[0].Percentage != tt.largest {
				t.Errorf("expected largest share %d, got %d", tt.largest, got[0].Percentage)
			}
		})
	}

	if got := Distribute(nil); len(got) != 0 {
		t.Errorf("expected no shares, got %v", got)
	}
}

func TestDeriveTemplate(t *testing.T) {
	var records []models.CallRecord
	id := int64(0)
	add := func(email, dest string, seconds int64, at time.Time) {
		id++
		records = append(records, call(id, email, "USA", dest, seconds, at))
	}
	// Two users over two months; 12 destinations so two are dropped.
	for i := 0; i < 12; i++ {
		dest := fmt.Sprintf("D%02d", i)
		for n := 0; n <= 12-i; n++ {
			add("a@corp.com", dest, 120, day(2024, time.March, 1+n))
		}
	}
	add("b@corp.com", "", 600, day(2024, time.June, 1))
	add("b@corp.com", "D00", 60, day(2023, time.June, 1))
	records = append(records, call(999, "c@corp.com", "Germany", "USA", 60, day(2024, time.June, 2)))

	tmpl, err := DeriveTemplate(records, "USA", 2024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 13+12+...+2 = 90 calls to named destinations, plus the unclassified one.
	if tmpl.TotalCalls != 91 || tmpl.UserCount != 2 || tmpl.MonthsWithData != 2 {
		t.Errorf("unexpected profile: %+v", tmpl)
	}
	if len(tmpl.Destinations) != TemplateTopDestinations || tmpl.DroppedDestinations != 2 {
		t.Errorf("expected top %d destinations, got %d (dropped %d)", TemplateTopDestinations, len(tmpl.Destinations), tmpl.DroppedDestinations)
	}
	if tmpl.Destinations[0].Country != "D00" || sum(tmpl.Destinations) != 100 {
		t.Errorf("unexpected distribution: %+v", tmpl.Destinations)
	}
	// 91 / 2 users / 2 months
	if !tmpl.AvgCallsPerUserMonth.Equal(d("22.75")) {
		t.Errorf("expected 22.75 calls per user per month, got %s", tmpl.AvgCallsPerUserMonth)
	}
	// (90*120 + 600) s / 60 / 91 calls = 190 / 91
	if !tmpl.AvgMinutesPerCall.Equal(d("2.09")) {
		t.Errorf("expected 2.09 minutes per call, got %s", tmpl.AvgMinutesPerCall)
	}

	in := tmpl.ScenarioInput()
	if in.OriginCountry != "USA" || in.UserCount != 2 || len(in.Destinations) != 10 {
		t.Errorf("unexpected scenario: %+v", in)
	}
	if err := in.Validate(); err != nil {
		t.Errorf("derived scenario should be valid: %v", err)
	}
}

func TestDeriveTemplateNoHistory(t *testing.T) {
	if _, err := DeriveTemplate(fixtureCalls(), "USA", 1999); !errors.Is(err, ErrNoHistory) {
		t.Errorf("expected ErrNoHistory, got %v", err)
	}
	if _, err := DeriveTemplate(fixtureCalls(), "", 2025); !errors.Is(err, ErrNoHistory) {
		t.Errorf("expected ErrNoHistory for empty origin, got %v", err)
	}
}
