// Package market implements the Market Registry: pure functions over wall
// time that derive market identity, interval enumeration, and lifecycle
// phase for the binary up/down markets this bot trades.
package market

import (
	"fmt"
	"math"

	"updown-mm/pkg/types"
)

// IntervalStart returns the largest multiple of the duration's interval
// length not exceeding unixNow, i.e. the start of the current interval.
func IntervalStart(d types.Duration, unixNow int64) int64 {
	interval := d.Seconds()
	return (unixNow / interval) * interval
}

// SecondsRemaining returns how many seconds remain in the interval starting
// at intervalStart, as of unixNow.
func SecondsRemaining(d types.Duration, intervalStart, unixNow int64) float64 {
	close := intervalStart + d.Seconds()
	return float64(close - unixNow)
}

// Slug builds the wire-visible market identity string:
// "{asset-prefix}-updown-{duration-suffix}-{interval-start-unix}".
func Slug(asset types.Asset, d types.Duration, intervalStart int64) string {
	return fmt.Sprintf("%s-updown-%s-%d", asset.SlugPrefix(), d, intervalStart)
}

// EnumerateIntervals returns the interval-start timestamps for the given
// number of past intervals, the current interval, and the given number of
// future intervals, relative to unixNow. Used by Book Feed discovery to
// synthesize candidate market identifiers to resolve against the exchange.
func EnumerateIntervals(d types.Duration, unixNow int64, past, future int) []int64 {
	interval := d.Seconds()
	current := IntervalStart(d, unixNow)

	out := make([]int64, 0, past+future+1)
	for i := past; i > 0; i-- {
		out = append(out, current-int64(i)*interval)
	}
	out = append(out, current)
	for i := 1; i <= future; i++ {
		out = append(out, current+int64(i)*interval)
	}
	return out
}

// IsExpired reports whether a market's close time plus a 60-second grace
// period has elapsed. Expired markets are swept from the discovery cache.
func IsExpired(closeUnix, nowUnix int64) bool {
	const retireGraceSecs = 60
	return nowUnix >= closeUnix+retireGraceSecs
}

// Score ranks a candidate market for the Book Feed's discovery duty, which
// attaches it to every market it reports; the engine tracks every
// discovered market regardless of score:
// score = spread * sqrt(volume) * min(liquidity/10000, 1).
func Score(spread, volume24h, liquidity float64) float64 {
	liquidityFactor := liquidity / 10000.0
	if liquidityFactor > 1.0 {
		liquidityFactor = 1.0
	}
	return spread * math.Sqrt(math.Max(volume24h, 0)) * liquidityFactor
}
