package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"updown-mm/pkg/types"
)

const (
	bookPingInterval = 50 * time.Second
	bookReadTimeout  = 90 * time.Second
	bookMaxBackoff   = 30 * time.Second
	bookWriteTimeout = 10 * time.Second
	bookBufferSize   = 256
)

// wireBookEvent is a full order book snapshot pushed by the exchange's
// public book channel.
type wireBookEvent struct {
	EventType string          `json:"event_type"`
	AssetID   string          `json:"asset_id"`
	Hash      string          `json:"hash"`
	Bids      []wirePriceLevel `json:"bids"`
	Asks      []wirePriceLevel `json:"asks"`
}

type wirePriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (l wirePriceLevel) toLevel() types.PriceLevel {
	p, _ := strconv.ParseFloat(l.Price, 64)
	s, _ := strconv.ParseFloat(l.Size, 64)
	return types.PriceLevel{Price: p, Size: s}
}

// wirePriceChangeEvent is an incremental book update.
type wirePriceChangeEvent struct {
	EventType    string `json:"event_type"`
	PriceChanges []struct {
		AssetID string `json:"asset_id"`
		Hash    string `json:"hash"`
	} `json:"price_changes"`
}

// Book mirrors the local order book for one token, kept current by a
// BookSource's stream of snapshot and incremental events.
type Book struct {
	mu      sync.RWMutex
	assetID string
	snap    types.OrderBookSnapshot
	updated time.Time
}

func newBook(assetID string) *Book {
	return &Book{assetID: assetID}
}

// Snapshot returns a copy of the current book state.
func (b *Book) Snapshot() types.OrderBookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

// IsStale reports whether the book hasn't updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

func (b *Book) apply(snap types.OrderBookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap = snap
	b.updated = time.Now()
}

// BookSource is the interface the engine and strategy layer depend on,
// letting the wire protocol stay swappable behind a fake in tests.
type BookSource interface {
	Book(assetID string) (*Book, bool)
	Subscribe(ctx context.Context, assetIDs []string) error
	Run(ctx context.Context) error
}

// WSBookFeed maintains a single reconnecting WebSocket connection to the
// exchange's public book channel and mirrors every subscribed token's book
// locally. Reconnects with exponential backoff (1s doubling to 30s) and
// re-subscribes to all tracked tokens on reconnect; a 90s read deadline
// (~2 missed pings) triggers reconnection on a silently dead connection.
type WSBookFeed struct {
	url    string
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	booksMu sync.RWMutex
	books   map[string]*Book

	subscribedMu sync.RWMutex
	subscribed   map[string]bool
}

// NewWSBookFeed creates a Book Feed Client pointed at the exchange's public
// WebSocket book channel.
func NewWSBookFeed(wsURL string, logger *slog.Logger) *WSBookFeed {
	return &WSBookFeed{
		url:        wsURL,
		logger:     logger.With("component", "book_feed"),
		books:      make(map[string]*Book),
		subscribed: make(map[string]bool),
	}
}

// Book returns the local mirror for a token, creating it lazily so a
// strategy can reference it before the first snapshot arrives.
func (f *WSBookFeed) Book(assetID string) (*Book, bool) {
	f.booksMu.Lock()
	defer f.booksMu.Unlock()
	b, ok := f.books[assetID]
	if !ok {
		b = newBook(assetID)
		f.books[assetID] = b
	}
	return b, ok
}

// Subscribe adds token IDs to track, sending an update message if already
// connected.
func (f *WSBookFeed) Subscribe(ctx context.Context, assetIDs []string) error {
	f.subscribedMu.Lock()
	for _, id := range assetIDs {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(map[string]interface{}{
		"operation": "subscribe",
		"asset_ids": assetIDs,
	})
}

// ApplySnapshot resyncs a token's local book mirror from a REST snapshot.
// Called periodically by the engine's book refresher duty so a silently
// desynced WS mirror self-heals even without a reconnect.
func (f *WSBookFeed) ApplySnapshot(assetID string, snap types.OrderBookSnapshot) {
	b, _ := f.Book(assetID)
	b.apply(snap)
}

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSBookFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("book feed disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > bookMaxBackoff {
			backoff = bookMaxBackoff
		}
	}
}

func (f *WSBookFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()
	if len(ids) > 0 {
		if err := f.writeJSON(map[string]interface{}{"operation": "subscribe", "asset_ids": ids}); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
	}

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(bookReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *WSBookFeed) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}

	switch envelope.EventType {
	case "book":
		var evt wireBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		bids := make([]types.PriceLevel, len(evt.Bids))
		for i, l := range evt.Bids {
			bids[i] = l.toLevel()
		}
		asks := make([]types.PriceLevel, len(evt.Asks))
		for i, l := range evt.Asks {
			asks[i] = l.toLevel()
		}
		b, _ := f.Book(evt.AssetID)
		b.apply(types.OrderBookSnapshot{AssetID: evt.AssetID, Bids: bids, Asks: asks, Hash: evt.Hash, Timestamp: time.Now()})

	case "price_change":
		var evt wirePriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		// An incremental delta without the full depth is not enough to
		// maintain a correct local mirror; treat it as a staleness ping
		// and let the next full snapshot resync the book.
		for _, pc := range evt.PriceChanges {
			if b, ok := f.books[pc.AssetID]; ok {
				b.mu.Lock()
				b.updated = time.Now()
				b.mu.Unlock()
			}
		}

	default:
		f.logger.Debug("ignoring book feed event", "type", envelope.EventType)
	}
}

func (f *WSBookFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(bookPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("book feed ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSBookFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(bookWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSBookFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(bookWriteTimeout))
	return f.conn.WriteMessage(msgType, data)
}
