package protocol

// MessageType identifies a protocol message. The set is closed: dispatchers
// reject any type not listed here instead of silently ignoring it.
type MessageType string

const (
	// MessageOrderPlaced is broadcast to every peer: "I have this unfilled
	// remainder; does anyone want to trade?"
	MessageOrderPlaced MessageType = "ORDER_PLACED"

	// MessageOrderMatched is sent directly to an order's owner: "I found
	// candidate counterparties in my book for your order."
	MessageOrderMatched MessageType = "ORDER_MATCHED"

	// MessageFillOrder is sent directly to a candidate's owner: "Trade this
	// quantity against my order."
	MessageFillOrder MessageType = "FILL_ORDER"

	// MessageOrderFilled is the reply to FILL_ORDER: "Here is how much I
	// traded and the result."
	MessageOrderFilled MessageType = "ORDER_FILLED"
)

// Valid reports whether the type belongs to the closed message set.
func (t MessageType) Valid() bool {
	switch t {
	case MessageOrderPlaced, MessageOrderMatched, MessageFillOrder, MessageOrderFilled:
		return true
	}
	return false
}

// Envelope is the wire carrier for every protocol message. Body holds the
// serialized type-specific payload; Error carries a benign protocol-level
// failure on replies (stale order, busy counterparty).
type Envelope struct {
	Type      MessageType `json:"message_type"`
	Source    string      `json:"source_peer_id"`
	RequestID string      `json:"rid,omitempty"`
	Body      []byte      `json:"body,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Order is the public view of an order as it crosses the wire. Quantities
// and price travel as decimal strings.
type Order struct {
	ID                string `json:"id"`
	Item              string `json:"item"`
	Side              string `json:"side"`
	Price             string `json:"price"`
	PeerID            string `json:"peer_id"`
	OriginalQuantity  string `json:"original_quantity"`
	RemainingQuantity string `json:"remaining_quantity"`
	FilledQuantity    string `json:"filled_quantity"`
}

// OrderPlaced is the body of an ORDER_PLACED broadcast.
type OrderPlaced struct {
	Order *Order `json:"order"`
}

// OrderMatched is the body of an ORDER_MATCHED direct message: the sender
// holds these candidate counterparties for the receiver's order.
type OrderMatched struct {
	OrderID        string   `json:"order_id"`
	MatchingOrders []*Order `json:"matching_orders"`
}

// FillOrder is the body of a FILL_ORDER direct request: trade the sender's
// order (current snapshot) against the receiver's resident candidate.
type FillOrder struct {
	Order           *Order `json:"order"`
	MatchingOrderID string `json:"matching_order_id"`
}

// OrderFilled is the body of a successful FILL_ORDER reply.
type OrderFilled struct {
	FilledOrderID  string `json:"filled_order_id"`
	OrderID        string `json:"order_id"`
	QuantityTraded string `json:"quantity_traded"`
}
