// Package analytics derives cost insights from aggregated call usage.
//
// The insights engine looks at engine output to surface lanes that have no
// rate, months whose spend jumps against the recent trend, and users whose
// spend is far above their peers.
package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clucraft/phusage-sub000/internal/engine"
	"github.com/clucraft/phusage-sub000/pkg/models"
)

// InsightType categorizes the kind of insight generated.
type InsightType string

const (
	InsightUnpricedLane InsightType = "unpriced_lane"
	InsightCostSpike    InsightType = "cost_spike"
	InsightTopSpender   InsightType = "top_spender"
)

// Severity indicates the urgency of an insight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityWarning:  1,
	SeverityInfo:     2,
}

// Thresholds.
var (
	// SpikeThreshold is the multiple of the trailing average that flags a month.
	SpikeThreshold = decimal.NewFromInt(2)
	// CriticalSpikeThreshold escalates a spike to critical.
	CriticalSpikeThreshold = decimal.NewFromInt(5)
	// SpenderThreshold is the multiple of the median user cost that flags a user.
	SpenderThreshold = decimal.NewFromInt(3)
)

const (
	// SpikeWindow is the number of preceding months averaged for spike detection.
	SpikeWindow = 3
	// minSpenderPopulation is the smallest user count a median is meaningful for.
	minSpenderPopulation = 3
	// criticalLaneShare is the share of filtered calls (percent) at which an
	// unpriced lane becomes critical.
	criticalLaneShare = 10
)

// Insight represents an actionable finding about call costs.
type Insight struct {
	ID             string          `json:"id"`
	Type           InsightType     `json:"type"`
	Severity       Severity        `json:"severity"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	AffectedEntity string          `json:"affected_entity"`
	Calls          int64           `json:"calls"`
	Minutes        int64           `json:"minutes"`
	Amount         decimal.Decimal `json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Engine generates insights. The zero value is usable.
type Engine struct {
	now func() time.Time
}

// NewEngine creates an insights engine stamping insights with now.
// A nil now uses time.Now.
func NewEngine(now func() time.Time) *Engine {
	return &Engine{now: now}
}

func (e *Engine) stamp() time.Time {
	if e == nil || e.now == nil {
		return time.Now().UTC()
	}
	return e.now()
}

// Generate runs every detector over the filtered records, most severe first.
func (e *Engine) Generate(records []models.CallRecord, cat *engine.Catalog, f engine.Filter) []Insight {
	var all []Insight
	all = append(all, e.UnpricedLanes(records, cat, f)...)
	all = append(all, e.CostSpikes(engine.MonthlyTrend(records, cat, f))...)
	all = append(all, e.TopSpenders(engine.Aggregate(records, cat, engine.GroupByUser, f))...)

	sort.SliceStable(all, func(i, j int) bool {
		return severityRank[all[i].Severity] < severityRank[all[j].Severity]
	})
	if all == nil {
		all = []Insight{}
	}
	return all
}

type laneAcc struct {
	origin, dest string
	calls        int64
	seconds      int64
}

// UnpricedLanes reports every origin to destination pair that had calls but
// no resolvable rate.
func (e *Engine) UnpricedLanes(records []models.CallRecord, cat *engine.Catalog, f engine.Filter) []Insight {
	lanes := make(map[string]*laneAcc)
	var total int64
	for _, r := range records {
		if !f.Matches(r) {
			continue
		}
		total++
		if res, _ := engine.RateCall(cat, r, f); res.Found {
			continue
		}
		origin := engine.KeyOf(r, engine.GroupByOrigin)
		dest := engine.KeyOf(r, engine.GroupByDestination)
		key := origin + " -> " + dest
		l, ok := lanes[key]
		if !ok {
			l = &laneAcc{origin: origin, dest: dest}
			lanes[key] = l
		}
		l.calls++
		l.seconds += r.DurationSeconds
	}

	keys := make([]string, 0, len(lanes))
	for k := range lanes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := lanes[keys[i]], lanes[keys[j]]
		if a.calls != b.calls {
			return a.calls > b.calls
		}
		return keys[i] < keys[j]
	})

	now := e.stamp()
	out := make([]Insight, 0, len(keys))
	for _, k := range keys {
		l := lanes[k]
		severity := SeverityWarning
		if l.calls*100 >= total*criticalLaneShare {
			severity = SeverityCritical
		}
		minutes := engine.WholeMinutes(l.seconds)
		out = append(out, Insight{
			ID:       fmt.Sprintf("unpriced-%s-%s", l.origin, l.dest),
			Type:     InsightUnpricedLane,
			Severity: severity,
			Title:    fmt.Sprintf("No rate for %s", k),
			Description: fmt.Sprintf(
				"%d calls (%d minutes) from %s to %s were costed at $0 because no rate matches the lane.",
				l.calls, minutes, l.origin, l.dest,
			),
			AffectedEntity: k,
			Calls:          l.calls,
			Minutes:        minutes,
			Amount:         decimal.Zero,
			CreatedAt:      now,
		})
	}
	return out
}

// CostSpikes flags months whose cost is at least SpikeThreshold times the
// average of the SpikeWindow months before it. trend must be in month order
// with gap months present, as returned by engine.MonthlyTrend.
func (e *Engine) CostSpikes(trend []engine.Bucket) []Insight {
	now := e.stamp()
	out := make([]Insight, 0)
	window := decimal.NewFromInt(SpikeWindow)
	for i := SpikeWindow; i < len(trend); i++ {
		if trend[i].Key == engine.UnknownKey {
			continue
		}
		sum := decimal.Zero
		for _, prev := range trend[i-SpikeWindow : i] {
			sum = sum.Add(prev.TotalCost)
		}
		avg := sum.Div(window)
		if !avg.IsPositive() || trend[i].TotalCost.LessThan(avg.Mul(SpikeThreshold)) {
			continue
		}

		multiple := trend[i].TotalCost.Div(avg)
		severity := SeverityWarning
		if multiple.GreaterThanOrEqual(CriticalSpikeThreshold) {
			severity = SeverityCritical
		}
		out = append(out, Insight{
			ID:       "spike-" + trend[i].Key,
			Type:     InsightCostSpike,
			Severity: severity,
			Title:    fmt.Sprintf("Cost spike in %s", trend[i].Label),
			Description: fmt.Sprintf(
				"%s cost $%s, %sx the trailing %d-month average of $%s.",
				trend[i].Label, trend[i].TotalCost.StringFixed(2), multiple.StringFixed(1),
				SpikeWindow, engine.RoundMoney(avg).StringFixed(2),
			),
			AffectedEntity: trend[i].Key,
			Calls:          trend[i].TotalCalls,
			Minutes:        trend[i].TotalMinutes,
			Amount:         engine.RoundMoney(trend[i].TotalCost.Sub(avg)),
			CreatedAt:      now,
		})
	}
	return out
}

// Median returns the median of values, or zero for an empty slice.
func Median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// TopSpenders flags users whose cost exceeds SpenderThreshold times the
// median user cost. users are per-user buckets; the Unknown bucket is ignored.
func (e *Engine) TopSpenders(users []engine.Bucket) []Insight {
	out := make([]Insight, 0)
	known := make([]engine.Bucket, 0, len(users))
	costs := make([]decimal.Decimal, 0, len(users))
	for _, u := range users {
		if u.Key == engine.UnknownKey {
			continue
		}
		known = append(known, u)
		costs = append(costs, u.TotalCost)
	}
	if len(known) < minSpenderPopulation {
		return out
	}
	median := Median(costs)
	if !median.IsPositive() {
		return out
	}

	engine.SortBuckets(known)
	limit := median.Mul(SpenderThreshold)
	now := e.stamp()
	for _, u := range known {
		if !u.TotalCost.GreaterThan(limit) {
			continue
		}
		out = append(out, Insight{
			ID:       "spender-" + u.Key,
			Type:     InsightTopSpender,
			Severity: SeverityInfo,
			Title:    fmt.Sprintf("%s spends well above peers", u.Key),
			Description: fmt.Sprintf(
				"%s spent $%s over %d calls, %sx the median user cost of $%s.",
				u.Key, u.TotalCost.StringFixed(2), u.TotalCalls,
				u.TotalCost.Div(median).StringFixed(1), engine.RoundMoney(median).StringFixed(2),
			),
			AffectedEntity: u.Key,
			Calls:          u.TotalCalls,
			Minutes:        u.TotalMinutes,
			Amount:         u.TotalCost,
			CreatedAt:      now,
		})
	}
	return out
}
