package strategy

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestReservationPriceSkewsWithInventory(t *testing.T) {
	flat := reservationPrice(0.5, 0, 0.5, 0.2, 0.5)
	if flat != 0.5 {
		t.Errorf("expected flat inventory to leave mid unchanged, got %f", flat)
	}

	long := reservationPrice(0.5, 100, 0.5, 0.2, 0.5)
	if long >= flat {
		t.Errorf("expected long YES inventory to pull reservation price down, got %f (flat %f)", long, flat)
	}

	short := reservationPrice(0.5, -100, 0.5, 0.2, 0.5)
	if short <= flat {
		t.Errorf("expected short YES inventory to push reservation price up, got %f (flat %f)", short, flat)
	}
}

func TestOptimalSpreadPositive(t *testing.T) {
	s := optimalSpread(0.5, 0.2, 10, 0.5)
	if s <= 0 {
		t.Errorf("expected positive optimal spread, got %f", s)
	}
}

func TestOptimalSpreadZeroOnDegenerateParams(t *testing.T) {
	if s := optimalSpread(0, 0.2, 10, 0.5); s != 0 {
		t.Errorf("expected 0 spread for gamma<=0, got %f", s)
	}
	if s := optimalSpread(0.5, 0.2, 0, 0.5); s != 0 {
		t.Errorf("expected 0 spread for k<=0, got %f", s)
	}
}

func TestClampPriceBounds(t *testing.T) {
	if p := clampPrice(decimal.NewFromFloat(1.5)); !p.Equal(decimal.NewFromFloat(0.99)) {
		t.Errorf("expected clamp to 0.99, got %s", p)
	}
	if p := clampPrice(decimal.NewFromFloat(-0.5)); !p.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("expected clamp to 0.01, got %s", p)
	}
}

func TestReservationPriceNaNGuard(t *testing.T) {
	r := reservationPrice(0.5, 0, 0.5, 0.2, 0.5)
	if math.IsNaN(r) {
		t.Error("expected finite reservation price")
	}
}
