package exchange

import (
	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

type priceLevel struct {
	head  *Order
	tail  *Order
	count int64
}

// bookSide holds the resident orders of one item on one side. Price levels
// live in a skiplist sorted best-price-first; orders at the same price form
// a FIFO linked list, so time priority at equal price is the insertion order.
type bookSide struct {
	side        Side
	totalOrders int64
	levels      *skiplist.SkipList
	orders      map[string]*Order
}

// newBuySide creates a side for buy orders, sorted by price in descending
// order (highest bid first).
func newBuySide() *bookSide {
	return &bookSide{
		side: Buy,
		levels: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)

			if d1.LessThan(d2) {
				return 1
			} else if d1.GreaterThan(d2) {
				return -1
			}

			return 0
		})),
		orders: make(map[string]*Order),
	}
}

// newSellSide creates a side for sell orders, sorted by price in ascending
// order (lowest ask first).
func newSellSide() *bookSide {
	return &bookSide{
		side: Sell,
		levels: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)

			if d1.GreaterThan(d2) {
				return 1
			} else if d1.LessThan(d2) {
				return -1
			}

			return 0
		})),
		orders: make(map[string]*Order),
	}
}

// order finds a resident order by its ID.
func (s *bookSide) order(id string) *Order {
	return s.orders[id]
}

// insert appends an order to the back of its price level, creating the
// level if absent.
func (s *bookSide) insert(order *Order) {
	el := s.levels.Get(order.Price)
	if el != nil {
		level, _ := el.Value.(*priceLevel)
		order.prev = level.tail
		order.next = nil
		if level.tail != nil {
			level.tail.next = order
		}
		level.tail = order
		if level.head == nil {
			level.head = order
		}
		level.count++
	} else {
		level := &priceLevel{
			head:  order,
			tail:  order,
			count: 1,
		}
		order.next = nil
		order.prev = nil
		s.levels.Set(order.Price, level)
	}

	s.orders[order.ID] = order
	s.totalOrders++
}

// remove unlinks an order from its price level and drops the level when it
// becomes empty. It is a no-op if the order is not resident.
func (s *bookSide) remove(order *Order) {
	resident, ok := s.orders[order.ID]
	if !ok {
		return
	}

	el := s.levels.Get(resident.Price)
	if el == nil {
		return
	}
	level, _ := el.Value.(*priceLevel)

	if resident.prev != nil {
		resident.prev.next = resident.next
	} else {
		level.head = resident.next
	}

	if resident.next != nil {
		resident.next.prev = resident.prev
	} else {
		level.tail = resident.prev
	}

	resident.next = nil
	resident.prev = nil

	level.count--
	delete(s.orders, resident.ID)
	s.totalOrders--

	if level.count == 0 {
		s.levels.RemoveElement(el)
	}
}

// best returns the order at the front of the side (best price, earliest at
// that price) without removing it.
func (s *bookSide) best() *Order {
	el := s.levels.Front()
	if el == nil {
		return nil
	}

	level, _ := el.Value.(*priceLevel)
	return level.head
}

// crosses reports whether an incoming price on the opposite side is
// acceptable against a resident price on this side.
func (s *bookSide) crosses(resident, incoming decimal.Decimal) bool {
	if s.side == Sell {
		// A buy inquiry accepts any ask at or below the inquiry price.
		return resident.LessThanOrEqual(incoming)
	}
	// A sell inquiry accepts any bid at or above the inquiry price.
	return resident.GreaterThanOrEqual(incoming)
}

// eligible returns detached copies of every resident order whose price is
// acceptable for the given opposite-side inquiry price. Iteration is by
// price level, but callers must not rely on any particular ordering.
func (s *bookSide) eligible(price decimal.Decimal) []*Order {
	var result []*Order

	el := s.levels.Front()
	for el != nil {
		level, _ := el.Value.(*priceLevel)
		if !s.crosses(level.head.Price, price) {
			break
		}

		for order := level.head; order != nil; order = order.next {
			result = append(result, order.Clone())
		}

		el = el.Next()
	}

	return result
}

// orderCount returns the total number of resident orders on this side.
func (s *bookSide) orderCount() int64 {
	return s.totalOrders
}

// toSnapshot copies the side into a detached slice, best price first and
// FIFO within each price level.
func (s *bookSide) toSnapshot() []*Order {
	snapshot := make([]*Order, 0, s.totalOrders)

	el := s.levels.Front()
	for el != nil {
		level, _ := el.Value.(*priceLevel)

		for order := level.head; order != nil; order = order.next {
			snapshot = append(snapshot, order.Clone())
		}

		el = el.Next()
	}

	return snapshot
}
