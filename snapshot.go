package exchange

// OrderBookSnapshot is a deep structural copy of one node's book, produced
// by OrderBook.Snapshot for external inspection and persistence. Consumers
// own the copy; mutating it has no effect on the live book.
type OrderBookSnapshot struct {
	BuyOrders          map[string][]*Order `json:"buyOrders"`
	SellOrders         map[string][]*Order `json:"sellOrders"`
	FilledOrders       map[string][]*Order `json:"filledOrders"`
	MatchedOrdersQueue map[string][]*Order `json:"matchedOrdersQueue"`
}
