// Package engine implements geographic rate resolution and cost aggregation
// for Teams PSTN call usage.
//
// Everything in this package is a pure function of its inputs: callers load a
// snapshot of call records and rate entries, build a Catalog once per request
// and hand both to the resolver, aggregator, estimator or template builder.
// No I/O happens here, so any of these may be evaluated concurrently.
package engine

const (
	// DefaultCallType is assumed when a call or scenario does not carry one.
	DefaultCallType = "Outbound"

	// UnknownKey groups calls whose grouping attribute is missing.
	UnknownKey = "Unknown"

	// PricePrecision is the number of decimals carried by rate entries.
	PricePrecision int32 = 4

	// MoneyPrecision is the number of decimals of every reported total.
	MoneyPrecision int32 = 2

	// TemplateTopDestinations is how many destinations a derived template keeps.
	TemplateTopDestinations = 10

	// MaxTrendMonths bounds the number of buckets a monthly trend may emit.
	MaxTrendMonths = 120

	monthLayout = "2006-01"
)
