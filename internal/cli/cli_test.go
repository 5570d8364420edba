package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clucraft/phusage-sub000/internal/api"
	"github.com/clucraft/phusage-sub000/internal/config"
	"github.com/clucraft/phusage-sub000/internal/engine"
	"github.com/clucraft/phusage-sub000/internal/report"
	"github.com/clucraft/phusage-sub000/internal/store/memory"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		endOfDay bool
		want     time.Time
		wantErr  bool
	}{
		{"empty", "", false, time.Time{}, false},
		{"date lower bound", "2025-03-01", false, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"date upper bound", "2025-03-01", true, time.Date(2025, 3, 1, 23, 59, 59, 999999999, time.UTC), false},
		{"rfc3339", "2025-03-01T10:00:00Z", true, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"garbage", "March", false, time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDate(tt.in, tt.endOfDay)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterFlags(t *testing.T) {
	ff := filterFlags{from: "2025-01-01", to: "2025-01-31", carrier: 3}
	f, err := ff.filter()
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if f.CarrierID == nil || *f.CarrierID != 3 {
		t.Errorf("carrier = %v, want 3", f.CarrierID)
	}
	if f.To.Day() != 31 || f.To.Hour() != 23 {
		t.Errorf("to = %v, want end of Jan 31", f.To)
	}

	if _, err := (&filterFlags{from: "2025-02-01", to: "2025-01-01"}).filter(); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, err := (&filterFlags{carrier: -1}).filter(); err == nil {
		t.Error("expected error for negative carrier")
	}
	f, err = (&filterFlags{}).filter()
	if err != nil || f.CarrierID != nil || !f.From.IsZero() {
		t.Errorf("empty flags = %+v, %v", f, err)
	}
}

func TestParseDestinations(t *testing.T) {
	got, err := parseDestinations([]string{"Germany=60", " India = 40.5 ", "Bosnia-Herzegovina=0"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []engine.DestinationShare{
		{Country: "Germany", Percentage: 60},
		{Country: "India", Percentage: 40.5},
		{Country: "Bosnia-Herzegovina", Percentage: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d destinations, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	for _, bad := range []string{"Germany", "=50", "Germany=abc", " =10"} {
		if _, err := parseDestinations([]string{bad}); err == nil {
			t.Errorf("parseDestinations(%q) expected error", bad)
		}
	}
}

func TestWriteBuckets(t *testing.T) {
	var buf bytes.Buffer
	err := writeBuckets(&buf, []engine.Bucket{
		{Key: "alice@example.com", Label: "Alice", TotalCalls: 2, TotalMinutes: 3, TotalCost: decimal.RequireFromString("1.5"), DistinctUsers: 1},
	})
	if err != nil {
		t.Fatalf("writeBuckets: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "KEY") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "alice@example.com") || !strings.Contains(out, "1.50") {
		t.Errorf("unexpected table: %q", out)
	}
}

func TestPlotTrend(t *testing.T) {
	months := []engine.Bucket{
		{Key: "2025-01", TotalCost: decimal.NewFromInt(10)},
		{Key: "2025-02", TotalCost: decimal.Zero},
		{Key: "2025-03", TotalCost: decimal.NewFromInt(25)},
	}
	out := plotTrend(months, 5)
	if !strings.Contains(out, "monthly cost 2025-01 .. 2025-03") {
		t.Errorf("caption missing: %q", out)
	}

	single := plotTrend(months[:1], 5)
	if !strings.Contains(single, "2025-01 .. 2025-01") {
		t.Errorf("single month caption missing: %q", single)
	}
}

func TestWriteEstimate(t *testing.T) {
	res := &engine.ScenarioResult{
		Input:                engine.ScenarioInput{OriginCountry: "USA", UserCount: 2},
		TotalMonthlyCalls:    decimal.NewFromInt(40),
		TotalMonthlyMinutes:  decimal.NewFromInt(200),
		PercentageTotal:      decimal.NewFromInt(90),
		MonthlyCost:          decimal.NewFromInt(4),
		YearlyCost:           decimal.NewFromInt(48),
		CostPerUser:          decimal.NewFromInt(2),
		UnpricedDestinations: []string{"Narnia"},
	}
	var buf bytes.Buffer
	if err := writeEstimate(&buf, res); err != nil {
		t.Fatalf("writeEstimate: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"monthly 4.00, yearly 48.00", "add up to 90%", "no rate for Narnia"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNewRouter(t *testing.T) {
	st := memory.New()
	h := api.NewHandlers(st, report.New(st, 1), memory.NewEstimateStore())

	c := config.Default()
	c.AdminAPIKey = "secret"
	r := newRouter(c, h, nil)

	tests := []struct {
		name   string
		path   string
		key    string
		status int
	}{
		{"health is public", "/health", "", http.StatusOK},
		{"missing key", "/api/v1/rates", "", http.StatusUnauthorized},
		{"valid key", "/api/v1/rates", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-Admin-Key", tt.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
		})
	}

	c.AdminAPIKey = ""
	c.AllowedOrigins = nil
	disabled := newRouter(c, h, nil)
	w := httptest.NewRecorder()
	disabled.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rates", nil))
	if w.Code != http.StatusForbidden {
		t.Errorf("without admin key status = %d, want 403", w.Code)
	}
}
