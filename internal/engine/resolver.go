package engine

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/clucraft/phusage-sub000/pkg/models"
)

// Tier names the fallback level that produced a resolution.
type Tier string

const (
	TierNone    Tier = "none"
	TierExact   Tier = "exact"
	TierLabel   Tier = "label"
	TierRelaxed Tier = "relaxed"
)

// Resolution is the outcome of one rate lookup. A zero price with Found=false
// means no rate is configured, which callers must report as a warning.
type Resolution struct {
	PricePerMinute   decimal.Decimal `json:"price_per_minute"`
	Found            bool            `json:"found"`
	Tier             Tier            `json:"tier"`
	RateID           int64           `json:"rate_id,omitempty"`
	DestinationLabel string          `json:"destination_label,omitempty"`
}

func miss() Resolution {
	return Resolution{PricePerMinute: decimal.Zero, Tier: TierNone}
}

type catalogRow struct {
	entry       models.RateEntry
	destCountry string
	destLabel   string
	callType    string
}

// Catalog is an immutable, pre-sorted view over a set of rate entries.
// Build it once per request; Resolve is safe for concurrent use.
type Catalog struct {
	byOrigin map[string][]catalogRow
	size     int
}

// NewCatalog indexes rates by origin country. Within an origin the rows are
// kept in tie-break order so the first match of a tier is the winner.
func NewCatalog(rates []models.RateEntry) *Catalog {
	c := &Catalog{byOrigin: make(map[string][]catalogRow), size: len(rates)}
	for _, r := range rates {
		origin := strings.TrimSpace(r.OriginCountry)
		if origin == "" {
			continue
		}
		callType := strings.TrimSpace(r.CallType)
		if callType == "" {
			callType = DefaultCallType
		}
		c.byOrigin[origin] = append(c.byOrigin[origin], catalogRow{
			entry:       r,
			destCountry: r.DestCountry(),
			destLabel:   strings.TrimSpace(r.DestinationLabel),
			callType:    callType,
		})
	}
	for _, rows := range c.byOrigin {
		sort.SliceStable(rows, func(i, j int) bool { return rowLess(rows[i], rows[j]) })
	}
	return c
}

// Len returns the number of entries the catalog was built from.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return c.size
}

func rowLess(a, b catalogRow) bool {
	if a.destLabel != b.destLabel {
		return a.destLabel < b.destLabel
	}
	if a.callType != b.callType {
		return a.callType < b.callType
	}
	ac, bc := a.entry.CarrierID, b.entry.CarrierID
	switch {
	case ac == nil && bc != nil:
		return true
	case ac != nil && bc == nil:
		return false
	case ac != nil && bc != nil && *ac != *bc:
		return *ac < *bc
	}
	if cmp := a.entry.PricePerMinute.Cmp(b.entry.PricePerMinute); cmp != 0 {
		return cmp < 0
	}
	return a.entry.ID < b.entry.ID
}

func carrierMatches(entry, want *int64) bool {
	if want == nil {
		return true
	}
	return entry != nil && *entry == *want
}

// Resolve returns the best rate for a lane. Tiers are tried in order:
// exact (country + call type), label (refined label + call type), then
// relaxed (country, any call type).
func (c *Catalog) Resolve(originCountry, destCountry, callType string, carrierID *int64) Resolution {
	origin := strings.TrimSpace(originCountry)
	dest := strings.TrimSpace(destCountry)
	if c == nil || origin == "" || dest == "" {
		return miss()
	}
	callType = strings.TrimSpace(callType)
	if callType == "" {
		callType = DefaultCallType
	}

	rows := c.byOrigin[origin]
	if len(rows) == 0 {
		return miss()
	}

	tiers := []struct {
		tier  Tier
		match func(catalogRow) bool
	}{
		{TierExact, func(r catalogRow) bool { return r.destCountry == dest && r.callType == callType }},
		{TierLabel, func(r catalogRow) bool { return r.destLabel == dest && r.callType == callType }},
		{TierRelaxed, func(r catalogRow) bool { return r.destCountry == dest }},
	}
	for _, t := range tiers {
		for i := range rows {
			if !carrierMatches(rows[i].entry.CarrierID, carrierID) || !t.match(rows[i]) {
				continue
			}
			return Resolution{
				PricePerMinute:   rows[i].entry.PricePerMinute,
				Found:            true,
				Tier:             t.tier,
				RateID:           rows[i].entry.ID,
				DestinationLabel: rows[i].destLabel,
			}
		}
	}
	return miss()
}

// Resolve is the single-shot form of Catalog.Resolve.
func Resolve(rates []models.RateEntry, originCountry, destCountry, callType string, carrierID *int64) Resolution {
	return NewCatalog(rates).Resolve(originCountry, destCountry, callType, carrierID)
}
