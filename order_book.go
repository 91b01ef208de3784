package exchange

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// OrderBook is the per-node resident book. It is exclusively owned by one
// ExchangeNode and never shared across nodes.
//
// All state is guarded by a single mutex. The per-order in-flight set is
// checked and set inside the same critical section, which makes it a real
// lock between the drain path (this node negotiating one of its own orders)
// and the fill path (a remote peer trading against one of this node's
// orders): whichever path wins the flag excludes the other until it is done.
type OrderBook struct {
	mu        sync.Mutex
	buys      map[string]*bookSide
	sells     map[string]*bookSide
	archive   map[string][]*Order
	pending   map[string][]*Order
	inFlight  map[string]bool
	publisher FillPublisher
}

// NewOrderBook creates an empty book. Fill events from local matching and
// negotiated fills are delivered to the publisher.
func NewOrderBook(publisher FillPublisher) *OrderBook {
	if publisher == nil {
		publisher = NewDiscardFillPublisher()
	}

	return &OrderBook{
		buys:      make(map[string]*bookSide),
		sells:     make(map[string]*bookSide),
		archive:   make(map[string][]*Order),
		pending:   make(map[string][]*Order),
		inFlight:  make(map[string]bool),
		publisher: publisher,
	}
}

// sideLocked returns the book side for the item, creating both sides of the
// item on first use.
func (book *OrderBook) sideLocked(item string, side Side) *bookSide {
	if _, ok := book.buys[item]; !ok {
		book.buys[item] = newBuySide()
		book.sells[item] = newSellSide()
	}

	if side == Buy {
		return book.buys[item]
	}
	return book.sells[item]
}

// AddOrder inserts the order into its side and runs local matching for the
// item. It returns a detached copy of the order if it is still resident
// with remaining quantity after matching, or nil if it was fully matched
// locally, signalling the caller not to broadcast it.
func (book *OrderBook) AddOrder(order *Order) *Order {
	if order == nil || order.Remaining.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	book.mu.Lock()
	defer book.mu.Unlock()

	book.sideLocked(order.Item, order.Side).insert(order)
	book.matchLocked(order.Item)

	if _, ok := book.sideLocked(order.Item, order.Side).orders[order.ID]; !ok {
		return nil
	}
	return order.Clone()
}

// matchLocked repeatedly trades the best buy against the best sell of one
// item while the prices cross. Time priority at equal price is implicit in
// the level FIFO. Orders currently under negotiation are left alone.
func (book *OrderBook) matchLocked(item string) {
	buySide, ok := book.buys[item]
	if !ok {
		return
	}
	sellSide := book.sells[item]

	for {
		bestBuy := buySide.best()
		bestSell := sellSide.best()
		if bestBuy == nil || bestSell == nil {
			break
		}

		if bestBuy.Price.LessThan(bestSell.Price) {
			break
		}

		// An order mid-negotiation has uncommitted quantity allocated to a
		// remote counterparty; it must not be matched locally until the
		// negotiation releases it.
		if book.inFlight[bestBuy.ID] || book.inFlight[bestSell.ID] {
			break
		}

		traded := decimal.Min(bestBuy.Remaining, bestSell.Remaining)
		bestBuy.fill(bestSell.ID, bestSell.PeerID, traded)
		bestSell.fill(bestBuy.ID, bestBuy.PeerID, traded)

		book.publisher.Publish(&FillEvent{
			Item:        item,
			Price:       bestSell.Price,
			Quantity:    traded,
			BuyOrderID:  bestBuy.ID,
			SellOrderID: bestSell.ID,
			BuyPeerID:   bestBuy.PeerID,
			SellPeerID:  bestSell.PeerID,
			CreatedAt:   time.Now().UTC(),
		})

		if bestBuy.Remaining.IsZero() {
			buySide.remove(bestBuy)
			book.archiveLocked(bestBuy)
		}

		if bestSell.Remaining.IsZero() {
			sellSide.remove(bestSell)
			book.archiveLocked(bestSell)
		}
	}
}

// FindMatchingOrders returns detached copies of every resident order on the
// opposite side of the inquiry whose price is acceptable: asks at or below
// an inquiring buy price, bids at or above an inquiring sell price. The
// result carries no ordering guarantee. Unknown items yield an empty result.
func (book *OrderBook) FindMatchingOrders(item string, price decimal.Decimal, side Side) []*Order {
	book.mu.Lock()
	defer book.mu.Unlock()

	var target *bookSide
	if side == Buy {
		target = book.sells[item]
	} else {
		target = book.buys[item]
	}

	if target == nil {
		return nil
	}
	return target.eligible(price)
}

// findResidentLocked scans both sides of every item for an order id.
func (book *OrderBook) findResidentLocked(orderID string) (*Order, *bookSide) {
	for _, side := range book.buys {
		if order := side.order(orderID); order != nil {
			return order, side
		}
	}

	for _, side := range book.sells {
		if order := side.order(orderID); order != nil {
			return order, side
		}
	}

	return nil, nil
}

// GetUnfilledOrder returns a detached copy of a resident order, or nil if
// the order is archived or unknown. It is the single source of truth for
// whether an order is still active.
func (book *OrderBook) GetUnfilledOrder(orderID string) *Order {
	book.mu.Lock()
	defer book.mu.Unlock()

	order, _ := book.findResidentLocked(orderID)
	if order == nil {
		return nil
	}
	return order.Clone()
}

// RemoveOrder removes the order from the resident side matching its item
// and side. It is a no-op if the order is not resident.
func (book *OrderBook) RemoveOrder(order *Order) {
	book.mu.Lock()
	defer book.mu.Unlock()

	side, ok := book.buys[order.Item]
	if order.Side == Sell {
		side, ok = book.sells[order.Item]
	}
	if !ok {
		return
	}

	side.remove(order)
}

// AddToArchive appends the order to the item's archive. The caller is
// responsible for having removed it from its resident side first.
func (book *OrderBook) AddToArchive(order *Order) {
	book.mu.Lock()
	defer book.mu.Unlock()

	book.archiveLocked(order)
}

func (book *OrderBook) archiveLocked(order *Order) {
	book.archive[order.Item] = append(book.archive[order.Item], order)
}

// EnqueueCandidates appends remote candidate orders to the pending queue of
// a resident order, creating the queue if absent. The queue stores its own
// copies; the caller's orders are never aliased by the book.
func (book *OrderBook) EnqueueCandidates(orderID string, candidates []*Order) {
	if len(candidates) == 0 {
		return
	}

	book.mu.Lock()
	defer book.mu.Unlock()

	for _, candidate := range candidates {
		book.pending[orderID] = append(book.pending[orderID], candidate.Clone())
	}
}

// DiscardCandidate marks a queued candidate as permanently failed, so no
// later pass offers quantity to it again.
func (book *OrderBook) DiscardCandidate(orderID, candidateID string) {
	book.mu.Lock()
	defer book.mu.Unlock()

	for _, candidate := range book.pending[orderID] {
		if candidate.ID == candidateID {
			candidate.Discarded = true
		}
	}
}

// MarkCandidateMatched records that a queued candidate traded.
func (book *OrderBook) MarkCandidateMatched(orderID, candidateID string) {
	book.mu.Lock()
	defer book.mu.Unlock()

	for _, candidate := range book.pending[orderID] {
		if candidate.ID == candidateID {
			candidate.Matched = true
		}
	}
}

// PendingOrderIDs returns the ids of orders that have queued candidates.
func (book *OrderBook) PendingOrderIDs() []string {
	book.mu.Lock()
	defer book.mu.Unlock()

	ids := make([]string, 0, len(book.pending))
	for id := range book.pending {
		ids = append(ids, id)
	}
	return ids
}

// BeginNegotiation atomically claims an order for one negotiation sequence
// and returns detached copies of its queued candidates; the sequence reports
// outcomes back through DiscardCandidate and MarkCandidateMatched. It
// reports false when the order is already claimed or no longer resident; a
// stale queue (order archived or unknown) is dropped here.
func (book *OrderBook) BeginNegotiation(orderID string) ([]*Order, bool) {
	book.mu.Lock()
	defer book.mu.Unlock()

	if book.inFlight[orderID] {
		return nil, false
	}

	queued := book.pending[orderID]
	if len(queued) == 0 {
		delete(book.pending, orderID)
		return nil, false
	}

	if order, _ := book.findResidentLocked(orderID); order == nil {
		delete(book.pending, orderID)
		return nil, false
	}

	book.inFlight[orderID] = true

	candidates := make([]*Order, 0, len(queued))
	for _, candidate := range queued {
		candidates = append(candidates, candidate.Clone())
	}
	return candidates, true
}

// EndNegotiation releases the order claimed by BeginNegotiation and drops
// its candidate queue; every queued candidate was either negotiated or
// discarded by the sequence that just finished.
func (book *OrderBook) EndNegotiation(orderID string) {
	book.mu.Lock()
	defer book.mu.Unlock()

	delete(book.pending, orderID)
	delete(book.inFlight, orderID)
}

// ApplyFill records a traded quantity reported by a counterparty against a
// resident order, archiving it when fully filled. It returns the remaining
// quantity after the fill, or ErrStaleOrder if the order is gone.
func (book *OrderBook) ApplyFill(orderID, counterpartyOrderID, counterpartyPeerID string, traded decimal.Decimal) (decimal.Decimal, error) {
	book.mu.Lock()
	defer book.mu.Unlock()

	order, side := book.findResidentLocked(orderID)
	if order == nil {
		return decimal.Zero, ErrStaleOrder
	}

	order.fill(counterpartyOrderID, counterpartyPeerID, traded)
	book.publisher.Publish(book.fillEventLocked(order, counterpartyOrderID, counterpartyPeerID, traded))

	if order.Remaining.IsZero() {
		side.remove(order)
		book.archiveLocked(order)
	}

	return order.Remaining, nil
}

// FillAgainst trades a remote order against a resident candidate, as the
// counterparty side of a FILL_ORDER request. The traded quantity is the
// minimum of both remaining quantities. ErrStaleOrder is returned when the
// candidate is archived or unknown, ErrOrderBusy when it is mid-negotiation
// as an initiator; both are benign for the caller.
func (book *OrderBook) FillAgainst(candidateID string, remote *Order) (decimal.Decimal, error) {
	book.mu.Lock()
	defer book.mu.Unlock()

	candidate, side := book.findResidentLocked(candidateID)
	if candidate == nil {
		return decimal.Zero, ErrStaleOrder
	}

	if book.inFlight[candidateID] {
		return decimal.Zero, ErrOrderBusy
	}
	book.inFlight[candidateID] = true

	traded := decimal.Min(candidate.Remaining, remote.Remaining)
	candidate.fill(remote.ID, remote.PeerID, traded)
	book.publisher.Publish(book.fillEventLocked(candidate, remote.ID, remote.PeerID, traded))

	if candidate.Remaining.IsZero() {
		side.remove(candidate)
		book.archiveLocked(candidate)
		delete(book.pending, candidateID)
	}

	delete(book.inFlight, candidateID)
	return traded, nil
}

// fillEventLocked builds the fill event for a negotiated trade as seen by
// this node: the price is the resident order's price.
func (book *OrderBook) fillEventLocked(order *Order, counterpartyOrderID, counterpartyPeerID string, traded decimal.Decimal) *FillEvent {
	event := &FillEvent{
		Item:      order.Item,
		Price:     order.Price,
		Quantity:  traded,
		CreatedAt: time.Now().UTC(),
	}

	if order.Side == Buy {
		event.BuyOrderID = order.ID
		event.BuyPeerID = order.PeerID
		event.SellOrderID = counterpartyOrderID
		event.SellPeerID = counterpartyPeerID
	} else {
		event.SellOrderID = order.ID
		event.SellPeerID = order.PeerID
		event.BuyOrderID = counterpartyOrderID
		event.BuyPeerID = counterpartyPeerID
	}

	return event
}

// Snapshot returns a deep structural copy of the book: resident orders per
// item and side, archived orders, and the pending candidate queues. Mutating
// the result never affects book state.
func (book *OrderBook) Snapshot() *OrderBookSnapshot {
	book.mu.Lock()
	defer book.mu.Unlock()

	snap := &OrderBookSnapshot{
		BuyOrders:          make(map[string][]*Order, len(book.buys)),
		SellOrders:         make(map[string][]*Order, len(book.sells)),
		FilledOrders:       make(map[string][]*Order, len(book.archive)),
		MatchedOrdersQueue: make(map[string][]*Order, len(book.pending)),
	}

	for item, side := range book.buys {
		snap.BuyOrders[item] = side.toSnapshot()
	}

	for item, side := range book.sells {
		snap.SellOrders[item] = side.toSnapshot()
	}

	for item, orders := range book.archive {
		archived := make([]*Order, 0, len(orders))
		for _, order := range orders {
			archived = append(archived, order.Clone())
		}
		snap.FilledOrders[item] = archived
	}

	for id, candidates := range book.pending {
		queued := make([]*Order, 0, len(candidates))
		for _, candidate := range candidates {
			queued = append(queued, candidate.Clone())
		}
		snap.MatchedOrdersQueue[id] = queued
	}

	return snap
}
