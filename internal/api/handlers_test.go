package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/clucraft/phusage-sub000/internal/engine"
	"github.com/clucraft/phusage-sub000/internal/report"
	"github.com/clucraft/phusage-sub000/internal/store/memory"
	"github.com/clucraft/phusage-sub000/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	for _, r := range []models.RateEntry{
		{OriginCountry: "USA", DestinationLabel: "Germany", PricePerMinute: decimal.RequireFromString("0.02")},
		{OriginCountry: "USA", DestinationLabel: "India", PricePerMinute: decimal.RequireFromString("0.05")},
	} {
		r := r
		if err := st.UpsertRate(ctx, &r); err != nil {
			t.Fatalf("seeding rate: %v", err)
		}
	}
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if _, err := st.InsertCalls(ctx, []models.CallRecord{
		{UserEmail: "alice@corp.com", StartedAt: at, DurationSeconds: 120, OriginCountry: "USA", DestinationCountry: "Germany"},
		{UserEmail: "bob@corp.com", StartedAt: at.AddDate(0, 1, 0), DurationSeconds: 60, OriginCountry: "USA", DestinationCountry: "India"},
	}); err != nil {
		t.Fatalf("seeding calls: %v", err)
	}

	h := NewHandlers(st, report.New(st, 2), memory.NewEstimateStore())
	r := gin.New()
	r.GET("/health", h.HealthCheck)
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type listResponse struct {
	Count int               `json:"count"`
	Data  []json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %s: %v", w.Body.String(), err)
	}
}

func TestHealthCheck(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	bare := gin.New()
	bare.GET("/health", NewHandlers(nil, nil, nil).HealthCheck)
	if w := doJSON(bare, http.MethodGet, "/health", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a store, got %d", w.Code)
	}
}

func TestRequireStore(t *testing.T) {
	r := gin.New()
	NewHandlers(nil, nil, nil).RegisterRoutes(r.Group("/api/v1"))
	for _, path := range []string{"/api/v1/costs/summary", "/api/v1/estimates/saved"} {
		if w := doJSON(r, http.MethodGet, path, nil); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, w.Code)
		}
	}
}

func TestCostSummary(t *testing.T) {
	r := newTestRouter(t)
	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantCount int
	}{
		{"by user", "/api/v1/costs/summary", http.StatusOK, 2},
		{"by destination", "/api/v1/costs/summary?group_by=destination", http.StatusOK, 2},
		{"date-only range", "/api/v1/costs/summary?from=2025-03-01&to=2025-03-10", http.StatusOK, 1},
		{"bad group", "/api/v1/costs/summary?group_by=planet", http.StatusBadRequest, 0},
		{"bad date", "/api/v1/costs/summary?from=yesterday", http.StatusBadRequest, 0},
		{"inverted range", "/api/v1/costs/summary?from=2025-04-01&to=2025-03-01", http.StatusBadRequest, 0},
		{"bad carrier", "/api/v1/costs/summary?carrier_id=x", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodGet, tt.path, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp listResponse
			decode(t, w, &resp)
			if resp.Count != tt.wantCount {
				t.Errorf("expected %d buckets, got %d", tt.wantCount, resp.Count)
			}
		})
	}
}

func TestTopTrendLocations(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/api/v1/costs/top?group_by=destination&limit=1", nil)
	var top struct {
		Count int             `json:"count"`
		Data  []engine.Bucket `json:"data"`
	}
	decode(t, w, &top)
	if top.Count != 1 || top.Data[0].Key != "India" {
		t.Errorf("expected India on top, got %+v", top.Data)
	}

	w = doJSON(r, http.MethodGet, "/api/v1/costs/trend", nil)
	var trend listResponse
	decode(t, w, &trend)
	if trend.Count != 2 {
		t.Errorf("expected March and April, got %d months", trend.Count)
	}

	w = doJSON(r, http.MethodGet, "/api/v1/costs/trend?from=0001-01-02&to=9999-12-31", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unbounded trend, got %d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/api/v1/costs/locations", nil)
	var locs listResponse
	decode(t, w, &locs)
	if locs.Count != 1 {
		t.Errorf("expected 1 origin, got %d", locs.Count)
	}
}

func TestLookupUser(t *testing.T) {
	r := newTestRouter(t)
	if w := doJSON(r, http.MethodGet, "/api/v1/users/lookup?q=ALICE", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/api/v1/users/lookup?q=nobody", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/api/v1/users/lookup", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without q, got %d", w.Code)
	}
}

func TestRates(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/rates", map[string]any{
		"origin_country": "USA", "destination": "Brazil-Mobile", "price_per_minute": "0.123456",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var created models.RateEntry
	decode(t, w, &created)
	if created.DestinationCountry != "Brazil" || !created.PricePerMinute.Equal(decimal.RequireFromString("0.1235")) {
		t.Errorf("unexpected stored rate: %+v", created)
	}

	if w := doJSON(r, http.MethodPost, "/api/v1/rates", map[string]any{"origin_country": "USA"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid rate, got %d", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/api/v1/rates/resolve", map[string]any{
		"origin_country": "USA", "destination_country": "Brazil",
	})
	var res engine.Resolution
	decode(t, w, &res)
	if !res.Found || res.DestinationLabel != "Brazil-Mobile" {
		t.Errorf("unexpected resolution: %+v", res)
	}
	if w := doJSON(r, http.MethodPost, "/api/v1/rates/resolve", map[string]any{"origin_country": "USA"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without destination, got %d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/api/v1/rates?origin=USA", nil)
	var list listResponse
	decode(t, w, &list)
	if list.Count != 3 {
		t.Errorf("expected 3 rates, got %d", list.Count)
	}

	if w := doJSON(r, http.MethodDelete, "/api/v1/rates/999", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 deleting unknown rate, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodDelete, "/api/v1/rates/"+strconv.FormatInt(created.ID, 10), nil); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestImportCallsAndCarriers(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/calls", []map[string]any{
		{"user_email": "dan@corp.com", "started_at": "2025-05-01T10:00:00Z", "duration_seconds": 30, "origin_country": "USA", "destination_country": "India"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := doJSON(r, http.MethodPost, "/api/v1/calls", []map[string]any{{"duration_seconds": 30}}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for call without email, got %d", w.Code)
	}

	if w := doJSON(r, http.MethodPost, "/api/v1/carriers", map[string]any{"name": "Acme"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/api/v1/carriers", map[string]any{"name": " "}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank carrier, got %d", w.Code)
	}
	w = doJSON(r, http.MethodGet, "/api/v1/carriers", nil)
	var list listResponse
	decode(t, w, &list)
	if list.Count != 1 {
		t.Errorf("expected 1 carrier, got %d", list.Count)
	}
}

func usaScenario() map[string]any {
	return map[string]any{
		"origin_country":           "USA",
		"user_count":               10,
		"calls_per_user_per_month": 20,
		"avg_minutes_per_call":     5,
		"destinations": []map[string]any{
			{"country": "Germany", "percentage": 60},
			{"country": "India", "percentage": 40},
		},
	}
}

func TestEstimates(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/estimates", usaScenario())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res engine.ScenarioResult
	decode(t, w, &res)
	if !res.MonthlyCost.Equal(decimal.NewFromInt(32)) || !res.YearlyCost.Equal(decimal.NewFromInt(384)) {
		t.Errorf("unexpected totals: %s / %s", res.MonthlyCost, res.YearlyCost)
	}

	bad := usaScenario()
	bad["user_count"] = 0
	if w := doJSON(r, http.MethodPost, "/api/v1/estimates", bad); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero users, got %d", w.Code)
	}
	noOrigin := usaScenario()
	delete(noOrigin, "origin_country")
	if w := doJSON(r, http.MethodPost, "/api/v1/estimates", noOrigin); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without origin, got %d", w.Code)
	}
}

func TestTemplate(t *testing.T) {
	r := newTestRouter(t)
	if w := doJSON(r, http.MethodGet, "/api/v1/estimates/template?origin=USA&year=2025", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := doJSON(r, http.MethodGet, "/api/v1/estimates/template?origin=USA&year=2019", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a year without history, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/api/v1/estimates/template?origin=USA&year=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad year, got %d", w.Code)
	}
}

func TestSavedEstimates(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/estimates/saved", map[string]any{
		"name": "Berlin office", "input": usaScenario(),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var saved models.SavedEstimate
	decode(t, w, &saved)
	if saved.ID == "" || saved.Name != "Berlin office" || len(saved.Result) == 0 {
		t.Errorf("unexpected saved estimate: %+v", saved)
	}

	if w := doJSON(r, http.MethodPost, "/api/v1/estimates/saved", map[string]any{"input": usaScenario()}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without name, got %d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/api/v1/estimates/saved", nil)
	var list listResponse
	decode(t, w, &list)
	if list.Count != 1 {
		t.Errorf("expected 1 saved estimate, got %d", list.Count)
	}

	if w := doJSON(r, http.MethodGet, "/api/v1/estimates/saved/"+saved.ID, nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodDelete, "/api/v1/estimates/saved/"+saved.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/api/v1/estimates/saved/"+saved.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
}

func TestInsights(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(r, http.MethodGet, "/api/v1/insights", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list listResponse
	decode(t, w, &list)
	if list.Count != 0 {
		t.Errorf("expected no insights for fully priced calls, got %d", list.Count)
	}
}

func TestParseTimeParam(t *testing.T) {
	tests := []struct {
		in       string
		endOfDay bool
		want     time.Time
		wantErr  bool
	}{
		{"", false, time.Time{}, false},
		{"2025-03-01", false, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"2025-03-01", true, time.Date(2025, 3, 1, 23, 59, 59, 999999999, time.UTC), false},
		{"2025-03-01T10:00:00Z", true, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"03/01/2025", false, time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseTimeParam(tt.in, tt.endOfDay)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: unexpected error %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("%q: expected %v, got %v", tt.in, tt.want, got)
		}
	}
}
