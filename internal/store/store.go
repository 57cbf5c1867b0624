// Package store implements a write-only audit log for fills and market
// resolutions. Each record is written to its own file using atomic file
// replacement (write to .tmp, then rename) so a crash mid-write never
// leaves a truncated or corrupt record behind. Nothing reads this log
// back — the engine is online-only and carries no replay path — so it
// exists purely as an append-only trading record for later inspection.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"updown-mm/pkg/types"
)

// Store persists audit records to JSON files in a designated directory.
type Store struct {
	dir string
	mu  sync.Mutex // serializes the sequence counter; each write uses its own file name
	seq int64
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// FillRecord is one audit entry for a confirmed fill.
type FillRecord struct {
	Kind        string    `json:"kind"`
	OrderID     string    `json:"order_id"`
	MarketID    string    `json:"market_id"`
	TokenID     string    `json:"token_id"`
	Side        string    `json:"side"`
	StrategyTag string    `json:"strategy_tag"`
	Price       string    `json:"price"`
	Size        string    `json:"size"`
	Timestamp   time.Time `json:"timestamp"`
}

// ResolutionRecord is one audit entry for a market's final resolution.
type ResolutionRecord struct {
	Kind        string    `json:"kind"`
	MarketID    string    `json:"market_id"`
	WinningSide string    `json:"winning_side"`
	RealizedPnL string    `json:"realized_pnl"`
	Timestamp   time.Time `json:"timestamp"`
}

// AppendFill writes an immutable audit record for a confirmed fill.
func (s *Store) AppendFill(fill types.Fill, strategyTag string) error {
	return s.write("fill", FillRecord{
		Kind:        "fill",
		OrderID:     fill.OrderID,
		MarketID:    fill.MarketID,
		TokenID:     fill.TokenID,
		Side:        string(fill.Side),
		StrategyTag: strategyTag,
		Price:       fill.Price.String(),
		Size:        fill.Size.String(),
		Timestamp:   fill.Timestamp,
	})
}

// AppendResolution writes an immutable audit record for a market's
// resolution and the realized P&L it produced.
func (s *Store) AppendResolution(marketID string, winningSide types.Side, realizedPnL decimal.Decimal) error {
	return s.write("resolution", ResolutionRecord{
		Kind:        "resolution",
		MarketID:    marketID,
		WinningSide: string(winningSide),
		RealizedPnL: realizedPnL.String(),
		Timestamp:   time.Now(),
	})
}

func (s *Store) write(kind string, record interface{}) error {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", kind, err)
	}

	name := fmt.Sprintf("%s_%020d.json", kind, seq)
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s record: %w", kind, err)
	}
	return os.Rename(tmp, path)
}
