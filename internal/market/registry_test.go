package market

import (
	"testing"

	"updown-mm/pkg/types"
)

func TestIntervalStartAlignsToDuration(t *testing.T) {
	t.Parallel()
	got := IntervalStart(types.FiveMin, 1_700_000_437)
	want := int64(1_700_000_400) // nearest multiple of 300 at or before now
	if got != want {
		t.Errorf("IntervalStart(5m) = %d, want %d", got, want)
	}
}

func TestSecondsRemainingCountsDownToClose(t *testing.T) {
	t.Parallel()
	start := int64(1_700_000_400)
	got := SecondsRemaining(types.FiveMin, start, start+250)
	if got != 50 {
		t.Errorf("SecondsRemaining = %v, want 50", got)
	}
}

func TestSlugFormatsAssetDurationAndStart(t *testing.T) {
	t.Parallel()
	got := Slug(types.BTC, types.FiveMin, 1_700_000_400)
	want := "btc-updown-5m-1700000400"
	if got != want {
		t.Errorf("Slug = %q, want %q", got, want)
	}
}

func TestEnumerateIntervalsCoversPastCurrentAndFuture(t *testing.T) {
	t.Parallel()
	now := int64(1_700_000_450)
	got := EnumerateIntervals(types.FiveMin, now, 2, 1)
	if len(got) != 4 {
		t.Fatalf("EnumerateIntervals len = %d, want 4", len(got))
	}
	current := IntervalStart(types.FiveMin, now)
	want := []int64{current - 600, current - 300, current, current + 300}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("interval[%d] = %d, want %d", i, got[i], w)
		}
	}
}

func TestIsExpiredRequiresGracePeriodPastClose(t *testing.T) {
	t.Parallel()
	closeUnix := int64(1_700_000_700)
	if IsExpired(closeUnix, closeUnix+30) {
		t.Error("IsExpired should be false within the 60s grace window")
	}
	if !IsExpired(closeUnix, closeUnix+60) {
		t.Error("IsExpired should be true once the 60s grace window elapses")
	}
}

func TestScoreWeightsSpreadVolumeAndCappedLiquidity(t *testing.T) {
	t.Parallel()
	low := Score(0.02, 10000, 5000)
	high := Score(0.02, 10000, 20000) // liquidity factor caps at 1.0 above 10000
	uncapped := Score(0.02, 10000, 10000)
	if high != uncapped {
		t.Errorf("Score should cap liquidity factor at 1.0: got %v, want %v", high, uncapped)
	}
	if low >= high {
		t.Errorf("Score with less liquidity should be lower: low=%v high=%v", low, high)
	}
}
