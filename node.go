package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/AceTheNinja/bfx-challenge/protocol"
	"github.com/AceTheNinja/bfx-challenge/transport"
)

type messageHandler func(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error)

// Node is one peer of the exchange: it owns an order book, answers protocol
// messages on the broadcast channel and its private channel, and
// periodically drains pending candidates by negotiating fills with their
// owners.
type Node struct {
	peerID     string
	cfg        Config
	book       *OrderBook
	transport  transport.Transport
	serializer protocol.Serializer

	broadcastHandlers map[protocol.MessageType]messageHandler
	directHandlers    map[protocol.MessageType]messageHandler
}

// NewNode creates a node with a fresh peer id and subscribes it to the
// broadcast channel and its own private channel.
func NewNode(cfg Config, book *OrderBook, tr transport.Transport) (*Node, error) {
	if book == nil || tr == nil {
		return nil, ErrInvalidParam
	}

	n := &Node{
		peerID:     uuid.NewString(),
		cfg:        cfg.withDefaults(),
		book:       book,
		transport:  tr,
		serializer: &protocol.DefaultJSONSerializer{},
	}

	n.broadcastHandlers = map[protocol.MessageType]messageHandler{
		protocol.MessageOrderPlaced: n.onOrderPlaced,
	}
	n.directHandlers = map[protocol.MessageType]messageHandler{
		protocol.MessageOrderMatched: n.onOrderMatched,
		protocol.MessageFillOrder:    n.onFillOrder,
	}

	if err := tr.Subscribe(n.cfg.BroadcastKey, n.HandleRequest); err != nil {
		return nil, err
	}
	if err := tr.Subscribe(n.peerID, n.HandleRequest); err != nil {
		return nil, err
	}

	return n, nil
}

// PeerID returns the node's stable peer identity.
func (n *Node) PeerID() string {
	return n.peerID
}

// Book returns the node's order book.
func (n *Node) Book() *OrderBook {
	return n.book
}

// Start announces the node and runs the announce and drain loops until the
// context is cancelled.
func (n *Node) Start(ctx context.Context) error {
	n.announce(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.announceLoop(ctx) })
	g.Go(func() error { return n.drainLoop(ctx) })
	return g.Wait()
}

func (n *Node) announceLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.announce(ctx)
		}
	}
}

func (n *Node) announce(ctx context.Context) {
	for _, key := range []string{n.cfg.BroadcastKey, n.peerID} {
		if err := n.transport.Announce(ctx, key); err != nil {
			logger.Warn("announce failed", "peer_id", n.peerID, "key", key, "error", err)
		}
	}
}

func (n *Node) drainLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.DrainOnce(ctx)
		}
	}
}

// PlaceOrder creates an order owned by this node and inserts it into the
// book. Any remainder left after local matching is broadcast as
// ORDER_PLACED; a broadcast failure is logged, not surfaced, since the
// order is already resident. The returned order is a detached copy.
func (n *Node) PlaceOrder(ctx context.Context, item string, side Side, price, quantity decimal.Decimal) (*Order, error) {
	if item == "" || (side != Buy && side != Sell) {
		return nil, ErrInvalidParam
	}
	if price.LessThanOrEqual(decimal.Zero) || quantity.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidParam
	}

	order := NewOrder(item, side, price, quantity, n.peerID)

	remainder := n.book.AddOrder(order)
	if remainder == nil {
		// Fully matched locally, nothing to advertise.
		return order.Clone(), nil
	}

	body, err := n.serializer.Marshal(&protocol.OrderPlaced{Order: orderToWire(remainder)})
	if err != nil {
		return remainder, err
	}

	env := &protocol.Envelope{
		Type:   protocol.MessageOrderPlaced,
		Source: n.peerID,
		Body:   body,
	}

	bctx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()

	if err := n.transport.Broadcast(bctx, n.cfg.BroadcastKey, env); err != nil {
		logger.Warn("broadcast failed", "peer_id", n.peerID, "order_id", order.ID, "error", err)
	}

	return remainder, nil
}

// HandleRequest is the single transport entry point. Messages on the
// broadcast key and on the node's private key each have their own closed
// handler table; anything else is rejected explicitly. The node never acts
// on its own messages.
func (n *Node) HandleRequest(ctx context.Context, key string, env *protocol.Envelope) (*protocol.Envelope, error) {
	if env == nil || !env.Type.Valid() {
		return nil, ErrUnknownMessage
	}

	if env.Source == n.peerID {
		return n.ack(env.Type), nil
	}

	var handlers map[protocol.MessageType]messageHandler
	switch key {
	case n.cfg.BroadcastKey:
		handlers = n.broadcastHandlers
	case n.peerID:
		handlers = n.directHandlers
	default:
		return nil, fmt.Errorf("%w: unexpected channel %q", ErrUnknownMessage, key)
	}

	h, ok := handlers[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s not accepted on this channel", ErrUnknownMessage, env.Type)
	}

	return h(ctx, env)
}

// ack is the bare acknowledgment reply the protocol requires even when the
// receiver takes no action.
func (n *Node) ack(t protocol.MessageType) *protocol.Envelope {
	return &protocol.Envelope{Type: t, Source: n.peerID}
}

// onOrderPlaced answers a broadcast: acknowledge, then search the own book
// for counterparties and, if any exist, notify the order's owner directly.
// The notification runs detached so the acknowledgment is not delayed by
// the owner's round-trip.
func (n *Node) onOrderPlaced(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error) {
	var body protocol.OrderPlaced
	if err := n.serializer.Unmarshal(env.Body, &body); err != nil {
		return nil, ErrMalformedBody
	}

	remote, err := orderFromWire(body.Order)
	if err != nil {
		return nil, err
	}

	candidates := n.book.FindMatchingOrders(remote.Item, remote.Price, remote.Side)
	if len(candidates) > 0 {
		go n.sendOrderMatched(remote, candidates)
	}

	return n.ack(env.Type), nil
}

func (n *Node) sendOrderMatched(remote *Order, candidates []*Order) {
	matching := make([]*protocol.Order, 0, len(candidates))
	for _, candidate := range candidates {
		matching = append(matching, orderToWire(candidate))
	}

	body, err := n.serializer.Marshal(&protocol.OrderMatched{
		OrderID:        remote.ID,
		MatchingOrders: matching,
	})
	if err != nil {
		logger.Error("marshal order matched", "order_id", remote.ID, "error", err)
		return
	}

	env := &protocol.Envelope{
		Type:   protocol.MessageOrderMatched,
		Source: n.peerID,
		Body:   body,
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RequestTimeout)
	defer cancel()

	if _, err := n.transport.Request(ctx, remote.PeerID, env); err != nil {
		logger.Warn("order matched notification failed",
			"peer_id", n.peerID,
			"owner", remote.PeerID,
			"order_id", remote.ID,
			"error", err)
	}
}

// onOrderMatched enqueues candidate counterparties reported by a peer for
// one of this node's orders. Stale notifications (the order already filled)
// are acknowledged and dropped.
func (n *Node) onOrderMatched(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error) {
	var body protocol.OrderMatched
	if err := n.serializer.Unmarshal(env.Body, &body); err != nil {
		return nil, ErrMalformedBody
	}

	if n.book.GetUnfilledOrder(body.OrderID) == nil {
		return n.ack(env.Type), nil
	}

	candidates := make([]*Order, 0, len(body.MatchingOrders))
	for _, w := range body.MatchingOrders {
		candidate, err := orderFromWire(w)
		if err != nil {
			logger.Warn("dropping malformed candidate", "order_id", body.OrderID, "error", err)
			continue
		}
		candidates = append(candidates, candidate)
	}

	n.book.EnqueueCandidates(body.OrderID, candidates)
	return n.ack(env.Type), nil
}

// onFillOrder trades the requester's order against the referenced resident
// candidate. Stale or busy candidates produce a benign error reply; the
// requester discards the candidate and moves on.
func (n *Node) onFillOrder(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error) {
	var body protocol.FillOrder
	if err := n.serializer.Unmarshal(env.Body, &body); err != nil {
		return nil, ErrMalformedBody
	}

	remote, err := orderFromWire(body.Order)
	if err != nil {
		return nil, err
	}

	traded, err := n.book.FillAgainst(body.MatchingOrderID, remote)
	if err != nil {
		reply := n.ack(protocol.MessageOrderFilled)
		reply.Error = err.Error()
		return reply, nil
	}

	result, err := n.serializer.Marshal(&protocol.OrderFilled{
		FilledOrderID:  body.MatchingOrderID,
		OrderID:        remote.ID,
		QuantityTraded: traded.String(),
	})
	if err != nil {
		return nil, err
	}

	reply := n.ack(protocol.MessageOrderFilled)
	reply.Body = result
	return reply, nil
}

// DrainOnce runs one drain pass: every order with queued candidates gets
// its own negotiation sequence. Sequences for different orders run
// concurrently; the per-order in-flight claim keeps a sequence exclusive
// for its order across overlapping passes.
func (n *Node) DrainOnce(ctx context.Context) {
	ids := n.book.PendingOrderIDs()
	if len(ids) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			n.negotiate(ctx, orderID)
		}(id)
	}
	wg.Wait()
}

// negotiate works through one order's queued candidates strictly in queue
// order, one awaited round-trip at a time, so the order's remaining
// quantity is never offered to two counterparties at once. Candidate
// outcomes are recorded on the book's queue, not on the local copies; a
// failed candidate is discarded permanently and the sequence stops early
// once the order is gone or fully filled.
func (n *Node) negotiate(ctx context.Context, orderID string) {
	candidates, ok := n.book.BeginNegotiation(orderID)
	if !ok {
		return
	}
	defer n.book.EndNegotiation(orderID)

	for _, candidate := range candidates {
		if candidate.Discarded {
			continue
		}

		// Re-fetch: the order may have been archived by an incoming fill
		// between enqueueing and this step.
		current := n.book.GetUnfilledOrder(orderID)
		if current == nil || current.Remaining.IsZero() {
			return
		}

		traded, err := n.requestFill(ctx, current, candidate)
		if err == nil && (traded.IsNegative() || traded.GreaterThan(decimal.Min(current.Remaining, candidate.Remaining))) {
			// A reply outside what either side could trade is as broken
			// as no reply at all.
			err = fmt.Errorf("%w: counterparty reported %s traded", ErrMalformedBody, traded)
		}
		if err != nil {
			n.book.DiscardCandidate(orderID, candidate.ID)
			logger.Warn("fill negotiation failed",
				"peer_id", n.peerID,
				"order_id", orderID,
				"candidate_id", candidate.ID,
				"counterparty", candidate.PeerID,
				"error", err)
			continue
		}

		remaining, err := n.book.ApplyFill(orderID, candidate.ID, candidate.PeerID, traded)
		if err != nil {
			return
		}
		n.book.MarkCandidateMatched(orderID, candidate.ID)
		if remaining.IsZero() {
			return
		}
	}
}

// requestFill performs one FILL_ORDER round-trip and returns the traded
// quantity reported by the counterparty.
func (n *Node) requestFill(ctx context.Context, order, candidate *Order) (decimal.Decimal, error) {
	body, err := n.serializer.Marshal(&protocol.FillOrder{
		Order:           orderToWire(order),
		MatchingOrderID: candidate.ID,
	})
	if err != nil {
		return decimal.Zero, err
	}

	env := &protocol.Envelope{
		Type:   protocol.MessageFillOrder,
		Source: n.peerID,
		Body:   body,
	}

	rctx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()

	reply, err := n.transport.Request(rctx, candidate.PeerID, env)
	if err != nil {
		return decimal.Zero, err
	}
	if reply.Error != "" {
		return decimal.Zero, fmt.Errorf("counterparty rejected fill: %s", reply.Error)
	}
	if reply.Type != protocol.MessageOrderFilled {
		return decimal.Zero, ErrUnknownMessage
	}

	var filled protocol.OrderFilled
	if err := n.serializer.Unmarshal(reply.Body, &filled); err != nil {
		return decimal.Zero, ErrMalformedBody
	}

	traded, err := decimal.NewFromString(filled.QuantityTraded)
	if err != nil {
		return decimal.Zero, ErrMalformedBody
	}
	return traded, nil
}
