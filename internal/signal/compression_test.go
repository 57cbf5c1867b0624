package signal

import (
	"testing"
	"time"
)

func TestCompressionDetectorNeedsFullWindow(t *testing.T) {
	t.Parallel()
	d := NewCompressionDetector()
	sig := d.Observe("m1", 100.0, fixedNow())
	if sig.State != CompressionNormal {
		t.Errorf("State with <20 samples = %v, want Normal", sig.State)
	}
}

func TestCompressionDetectorDetectsCompression(t *testing.T) {
	t.Parallel()
	d := NewCompressionDetector()
	base := fixedNow()

	// Feed 100 wide-swinging samples to build percentile history, then
	// 20 flat samples that should register near-zero BBW, i.e. low percentile.
	for i := 0; i < 100; i++ {
		price := 100.0 + float64(i%5)*2.0
		d.Observe("m1", price, base.Add(time.Duration(i)*time.Second))
	}
	var sig CompressionSignal
	for i := 0; i < 20; i++ {
		sig = d.Observe("m1", 100.0, base.Add(time.Duration(100+i)*time.Second))
	}

	if sig.State == CompressionNormal {
		t.Errorf("expected Compressing/BreakoutDetected after flat window, got Normal (pctl=%v)", sig.BBWPercentile)
	}
}
