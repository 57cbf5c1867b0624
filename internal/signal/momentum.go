package signal

import (
	"sync"
	"time"
)

// MomentumSignal captures the YES-mid momentum/divergence state used by the
// momentum-capture strategy.
type MomentumSignal struct {
	Momentum    float64 // composite: 0.5*v5 + 0.3*accel + 0.2*(v5-v30)
	Acceleration float64 // v5 - v15
	Divergence  float64 // fair - current
	Velocity5s  float64
	Velocity15s float64
	Velocity30s float64
	Exhausted   bool
	Timestamp   time.Time
}

// IsEntrySignal reports whether the composite signal clears the entry bar:
// |momentum| > 0.003, |divergence| > 0.02, matching signs, and not exhausted.
func (m MomentumSignal) IsEntrySignal() bool {
	return absf(m.Momentum) > 0.003 &&
		absf(m.Divergence) > 0.02 &&
		!m.Exhausted &&
		signOf(m.Momentum) == signOf(m.Divergence)
}

// Direction reports the directional bias implied by momentum+divergence
// agreement, or BiasNeutral if they disagree.
func (m MomentumSignal) Direction() BiasDirection {
	if m.Momentum > 0 && m.Divergence > 0 {
		return BiasUp
	}
	if m.Momentum < 0 && m.Divergence < 0 {
		return BiasDown
	}
	return BiasNeutral
}

type midSample struct {
	mid float64
	at  time.Time
}

const momentumExhaustionWindow = 10

// MomentumDetector tracks (timestamp, YES-mid) pairs per market and derives
// velocity/acceleration/exhaustion signals.
type MomentumDetector struct {
	mu      sync.Mutex
	samples map[string][]midSample
	peaks   map[string][]float64 // last N |momentum| magnitudes, for exhaustion
}

// NewMomentumDetector constructs an empty detector.
func NewMomentumDetector() *MomentumDetector {
	return &MomentumDetector{
		samples: make(map[string][]midSample),
		peaks:   make(map[string][]float64),
	}
}

// Observe records a new YES-mid sample for market and returns the updated
// MomentumSignal given the current fair-value estimate.
func (d *MomentumDetector) Observe(market string, mid, fair float64, now time.Time) MomentumSignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	series := append(d.samples[market], midSample{mid: mid, at: now})
	cutoff := now.Add(-35 * time.Second)
	trimmed := series[:0]
	for _, s := range series {
		if s.at.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	d.samples[market] = trimmed

	v5 := velocityAt(trimmed, now, 5*time.Second)
	v15 := velocityAt(trimmed, now, 15*time.Second)
	v30 := velocityAt(trimmed, now, 30*time.Second)
	accel := v5 - v15
	momentum := 0.5*v5 + 0.3*accel + 0.2*(v5-v30)
	divergence := fair - mid

	peaks := append(d.peaks[market], absf(momentum))
	if len(peaks) > momentumExhaustionWindow {
		peaks = peaks[len(peaks)-momentumExhaustionWindow:]
	}
	d.peaks[market] = peaks

	exhausted := isExhausted(peaks, momentum)

	return MomentumSignal{
		Momentum:     momentum,
		Acceleration: accel,
		Divergence:   divergence,
		Velocity5s:   v5,
		Velocity15s:  v15,
		Velocity30s:  v30,
		Exhausted:    exhausted,
		Timestamp:    now,
	}
}

// velocityAt returns (current_mid - ref_mid) / seconds_since_ref, using the
// most recent sample at or before now-horizon as the reference point, or
// the oldest sample if none is that old. Returns 0 if the series is empty
// or the reference sample is not in the past.
func velocityAt(series []midSample, now time.Time, horizon time.Duration) float64 {
	if len(series) == 0 {
		return 0
	}
	target := now.Add(-horizon)
	var ref *midSample
	for i := range series {
		if !series[i].at.After(target) {
			ref = &series[i]
		} else {
			break
		}
	}
	if ref == nil {
		ref = &series[0]
	}
	current := series[len(series)-1].mid
	elapsed := now.Sub(ref.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return (current - ref.mid) / elapsed
}

// isExhausted reports a faded move: over the last 10 momentum samples, if
// the peak |momentum| exceeded 0.005 and the current reading has faded
// below 40% of that peak, the move is exhausted.
func isExhausted(peaks []float64, currentMomentum float64) bool {
	if len(peaks) == 0 {
		return false
	}
	var peak float64
	for _, p := range peaks {
		if p > peak {
			peak = p
		}
	}
	if peak <= 0.005 {
		return false
	}
	return absf(currentMomentum) < 0.4*peak
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func signOf(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
