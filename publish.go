package exchange

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// FillEvent is emitted once per trade: a local match produces a single
// event carrying both sides, a negotiated cross-peer fill produces one
// event on each participating node.
type FillEvent struct {
	Item        string          `json:"item"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	BuyPeerID   string          `json:"buy_peer_id"`
	SellPeerID  string          `json:"sell_peer_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// FillPublisher receives fill events from the order book.
//
// Publish is called while the book lock is held, so implementations must
// either return quickly or hand the events off to their own queue.
type FillPublisher interface {
	Publish(...*FillEvent)
}

// MemoryFillPublisher stores events in memory, useful for testing.
type MemoryFillPublisher struct {
	mu     sync.RWMutex
	Events []*FillEvent
}

func NewMemoryFillPublisher() *MemoryFillPublisher {
	return &MemoryFillPublisher{
		Events: make([]*FillEvent, 0),
	}
}

func (m *MemoryFillPublisher) Publish(events ...*FillEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, events...)
}

// Count returns the number of events stored.
func (m *MemoryFillPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Events)
}

// Get returns the event at the specified index.
func (m *MemoryFillPublisher) Get(index int) *FillEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.Events[index]
}

type DiscardFillPublisher struct {
}

func NewDiscardFillPublisher() *DiscardFillPublisher {
	return &DiscardFillPublisher{}
}

func (p *DiscardFillPublisher) Publish(events ...*FillEvent) {
}
