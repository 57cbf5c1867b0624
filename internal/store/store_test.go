package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"updown-mm/pkg/types"
)

func TestAppendFillWritesRecord(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fill := types.Fill{
		OrderID:   "ord1",
		MarketID:  "mkt1",
		TokenID:   "tok1",
		Side:      types.Buy,
		Price:     decimal.NewFromFloat(0.55),
		Size:      decimal.NewFromFloat(10),
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
	if err := s.AppendFill(fill, "arb"); err != nil {
		t.Fatalf("AppendFill: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, got %d", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var rec FillRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if rec.OrderID != "ord1" || rec.StrategyTag != "arb" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestAppendResolutionWritesRecord(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.AppendResolution("mkt1", types.Yes, decimal.NewFromFloat(1.23)); err != nil {
		t.Fatalf("AppendResolution: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, got %d", len(entries))
	}
}

func TestAppendNeverOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fill := types.Fill{MarketID: "mkt1", Price: decimal.Zero, Size: decimal.Zero, Timestamp: time.Now()}
	for i := 0; i < 5; i++ {
		if err := s.AppendFill(fill, "maker"); err != nil {
			t.Fatalf("AppendFill %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 distinct audit files, got %d", len(entries))
	}
}
