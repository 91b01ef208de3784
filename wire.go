package exchange

import (
	"github.com/shopspring/decimal"

	"github.com/AceTheNinja/bfx-challenge/protocol"
)

// orderToWire projects the public fields of an order onto the wire shape.
func orderToWire(o *Order) *protocol.Order {
	return &protocol.Order{
		ID:                o.ID,
		Item:              o.Item,
		Side:              o.Side.String(),
		Price:             o.Price.String(),
		PeerID:            o.PeerID,
		OriginalQuantity:  o.OriginalQuantity.String(),
		RemainingQuantity: o.Remaining.String(),
		FilledQuantity:    o.Filled.String(),
	}
}

// orderFromWire rebuilds a remote order view. The result carries no fill
// ledger; it only exists to negotiate against.
func orderFromWire(w *protocol.Order) (*Order, error) {
	if w == nil || w.ID == "" || w.Item == "" || w.PeerID == "" {
		return nil, ErrMalformedBody
	}

	side, err := SideFromString(w.Side)
	if err != nil {
		return nil, ErrMalformedBody
	}

	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return nil, ErrMalformedBody
	}

	original, err := decimal.NewFromString(w.OriginalQuantity)
	if err != nil {
		return nil, ErrMalformedBody
	}

	remaining, err := decimal.NewFromString(w.RemainingQuantity)
	if err != nil {
		return nil, ErrMalformedBody
	}

	filled, err := decimal.NewFromString(w.FilledQuantity)
	if err != nil {
		return nil, ErrMalformedBody
	}

	return &Order{
		ID:               w.ID,
		Item:             w.Item,
		Side:             side,
		Price:            price,
		PeerID:           w.PeerID,
		OriginalQuantity: original,
		Remaining:        remaining,
		Filled:           filled,
	}, nil
}
