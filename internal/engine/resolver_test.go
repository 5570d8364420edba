package engine

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/clucraft/phusage-sub000/pkg/models"
)

func TestResolveTiers(t *testing.T) {
	rates := fixtureRates()

	tests := []struct {
		name     string
		origin   string
		dest     string
		callType string
		found    bool
		tier     Tier
		price    string
		rateID   int64
	}{
		{"exact country", "USA", "Germany", "Outbound", true, TierExact, "0.02", 1},
		{"default call type", "USA", "India", "", true, TierExact, "0.05", 2},
		{"label sorts first within tier", "USA", "Afghanistan", "Outbound", true, TierExact, "0.20", 4},
		{"refined label", "USA", "Afghanistan-Mobile", "Outbound", true, TierLabel, "0.30", 3},
		{"relaxed ignores call type", "Germany", "France", "Outbound", true, TierRelaxed, "0.01", 5},
		{"unknown lane", "USA", "Brazil", "Outbound", false, TierNone, "0", 0},
		{"empty origin", "", "Germany", "Outbound", false, TierNone, "0", 0},
		{"empty destination", "USA", "  ", "Outbound", false, TierNone, "0", 0},
		{"trimmed input", " USA ", " Germany", "Outbound", true, TierExact, "0.02", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(rates, tt.origin, tt.dest, tt.callType, nil)
			if res.Found != tt.found {
				t.Fatalf("expected found=%v, got %v", tt.found, res.Found)
			}
			if res.Tier != tt.tier {
				t.Errorf("expected tier %q, got %q", tt.tier, res.Tier)
			}
			if !res.PricePerMinute.Equal(d(tt.price)) {
				t.Errorf("expected price %s, got %s", tt.price, res.PricePerMinute)
			}
			if res.RateID != tt.rateID {
				t.Errorf("expected rate %d, got %d", tt.rateID, res.RateID)
			}
		})
	}
}

func TestResolveUnmatchedOriginAlwaysMisses(t *testing.T) {
	for _, rates := range [][]models.RateEntry{fixtureRates(), {rate(9, "", "Germany", "Outbound", "1")}} {
		res := Resolve(rates, "", "Germany", "Outbound", nil)
		if res.Found {
			t.Fatal("expected no rate for an empty origin")
		}
		if !Cost(600, res.PricePerMinute).IsZero() {
			t.Error("expected zero cost on a miss")
		}
	}
}

func TestResolveExactBeatsRelaxed(t *testing.T) {
	rates := []models.RateEntry{
		rate(1, "USA", "Germany", "Inbound", "0.01"),
		rate(2, "USA", "Germany", "Outbound", "0.09"),
	}
	res := Resolve(rates, "USA", "Germany", "Outbound", nil)
	if res.Tier != TierExact || res.RateID != 2 {
		t.Fatalf("expected exact rate 2, got %s rate %d", res.Tier, res.RateID)
	}
}

func TestResolveCarrierRestriction(t *testing.T) {
	a := rate(1, "USA", "Germany", "Outbound", "0.02")
	b := rate(2, "USA", "Germany", "Outbound", "0.03")
	b.CarrierID = i64(7)
	rates := []models.RateEntry{a, b}

	if res := Resolve(rates, "USA", "Germany", "Outbound", i64(7)); res.RateID != 2 {
		t.Errorf("expected carrier rate 2, got %d", res.RateID)
	}
	if res := Resolve(rates, "USA", "Germany", "Outbound", i64(8)); res.Found {
		t.Error("expected no rate for an unknown carrier")
	}
	// Without a carrier every entry is eligible; nil carrier sorts first.
	if res := Resolve(rates, "USA", "Germany", "Outbound", nil); res.RateID != 1 {
		t.Errorf("expected rate 1, got %d", res.RateID)
	}
}

func TestResolveDeterministic(t *testing.T) {
	rates := []models.RateEntry{
		rate(10, "USA", "Germany-Mobile", "Outbound", "0.04"),
		rate(11, "USA", "Germany-Fixed", "Outbound", "0.03"),
		rate(12, "USA", "Germany", "Outbound", "0.02"),
		rate(13, "USA", "Germany", "Outbound", "0.01"),
	}
	want := Resolve(rates, "USA", "Germany", "Outbound", nil)
	if want.RateID != 13 {
		t.Fatalf("expected cheapest duplicate of the first label, got %d", want.RateID)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.RateEntry(nil), rates...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := Resolve(shuffled, "USA", "Germany", "Outbound", nil)
		if got.RateID != want.RateID || got.Tier != want.Tier || !got.PricePerMinute.Equal(want.PricePerMinute) {
			t.Fatalf("resolution changed with input order: %+v vs %+v", got, want)
		}
	}

	cat := NewCatalog(rates)
	var wg sync.WaitGroup
	results := make([]Resolution, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cat.Resolve("USA", "Germany", "Outbound", nil)
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		if r.RateID != want.RateID {
			t.Fatalf("concurrent resolution returned rate %d", r.RateID)
		}
	}
}

func TestCatalogLen(t *testing.T) {
	var nilCat *Catalog
	if nilCat.Len() != 0 {
		t.Error("nil catalog should be empty")
	}
	if NewCatalog(fixtureRates()).Len() != 5 {
		t.Error("expected 5 entries")
	}
	if res := nilCat.Resolve("USA", "Germany", "Outbound", nil); res.Found {
		t.Error("nil catalog should never resolve")
	}
}
