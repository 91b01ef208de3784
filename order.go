package exchange

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

// SideFromString parses the wire representation of a side.
func SideFromString(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, ErrInvalidParam
}

// Opposite returns the side a given side trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Fill is one entry in an order's fill ledger. Quantity is the amount
// actually traded against the counterparty, not the counterparty's size.
type Fill struct {
	OrderID  string          `json:"order_id"`
	Quantity decimal.Decimal `json:"quantity"`
	PeerID   string          `json:"peer_id"`
}

// Order is a resident entry in the order book. ID, Item, Side, Price,
// PeerID and OriginalQuantity are immutable after creation; the fill
// state is only mutated by the owning OrderBook.
type Order struct {
	ID               string          `json:"id"`
	Item             string          `json:"item"`
	Side             Side            `json:"side"`
	Price            decimal.Decimal `json:"price"`
	PeerID           string          `json:"peer_id"`
	OriginalQuantity decimal.Decimal `json:"original_quantity"`
	Remaining        decimal.Decimal `json:"remaining_quantity"`
	Filled           decimal.Decimal `json:"filled_quantity"`
	Fills            []Fill          `json:"fills,omitempty"`

	// Matched and Discarded record a remote candidate's negotiation
	// outcome: a successful fill or a permanent failure. Neither is ever
	// set on resident orders; both are owned by the book that queues the
	// candidate.
	Matched   bool `json:"matched,omitempty"`
	Discarded bool `json:"discarded,omitempty"`

	Timestamp int64 `json:"timestamp"`

	// Intrusive linked list pointers for the price level FIFO (ignored by JSON)
	next *Order
	prev *Order
}

// NewOrder creates a resident order owned by peerID with a fresh id.
func NewOrder(item string, side Side, price, quantity decimal.Decimal, peerID string) *Order {
	return &Order{
		ID:               uuid.NewString(),
		Item:             item,
		Side:             side,
		Price:            price,
		PeerID:           peerID,
		OriginalQuantity: quantity,
		Remaining:        quantity,
		Filled:           decimal.Zero,
		Timestamp:        time.Now().UnixNano(),
	}
}

// fill applies a traded quantity against the counterparty and appends the
// ledger entry. Callers hold the book lock.
func (o *Order) fill(counterpartyID, counterpartyPeerID string, quantity decimal.Decimal) {
	o.Remaining = o.Remaining.Sub(quantity)
	o.Filled = o.Filled.Add(quantity)
	o.Fills = append(o.Fills, Fill{
		OrderID:  counterpartyID,
		Quantity: quantity,
		PeerID:   counterpartyPeerID,
	})
}

// Clone returns a detached copy with its own fill ledger. The copy carries
// no list pointers and is safe to hand outside the book lock.
func (o *Order) Clone() *Order {
	cpy := *o
	cpy.next = nil
	cpy.prev = nil
	cpy.Fills = make([]Fill, len(o.Fills))
	copy(cpy.Fills, o.Fills)
	return &cpy
}
