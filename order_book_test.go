package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(item string, side Side, price, quantity int64, peerID string) *Order {
	return NewOrder(item, side, decimal.NewFromInt(price), decimal.NewFromInt(quantity), peerID)
}

func assertConserved(t *testing.T, order *Order) {
	t.Helper()
	assert.True(t, order.Remaining.Add(order.Filled).Equal(order.OriginalQuantity),
		"remaining %s + filled %s != original %s", order.Remaining, order.Filled, order.OriginalQuantity)
}

func TestAddOrderFullLocalMatch(t *testing.T) {
	publisher := NewMemoryFillPublisher()
	book := NewOrderBook(publisher)

	buy := testOrder("BTC", Buy, 100, 1, "peer-1")
	remainder := book.AddOrder(buy)
	require.NotNil(t, remainder)
	assert.True(t, remainder.Remaining.Equal(decimal.NewFromInt(1)))

	sell := testOrder("BTC", Sell, 100, 1, "peer-1")
	remainder = book.AddOrder(sell)
	assert.Nil(t, remainder)

	// Both fully filled and archived.
	assert.Nil(t, book.GetUnfilledOrder(buy.ID))
	assert.Nil(t, book.GetUnfilledOrder(sell.ID))

	snap := book.Snapshot()
	require.Len(t, snap.FilledOrders["BTC"], 2)
	assert.Empty(t, snap.BuyOrders["BTC"])
	assert.Empty(t, snap.SellOrders["BTC"])

	for _, archived := range snap.FilledOrders["BTC"] {
		assert.True(t, archived.Remaining.IsZero())
		assertConserved(t, archived)
		require.Len(t, archived.Fills, 1)
		assert.True(t, archived.Fills[0].Quantity.Equal(decimal.NewFromInt(1)))
	}

	// One trade, carrying both sides.
	require.Equal(t, 1, publisher.Count())
	event := publisher.Get(0)
	assert.Equal(t, buy.ID, event.BuyOrderID)
	assert.Equal(t, sell.ID, event.SellOrderID)
	assert.True(t, event.Quantity.Equal(decimal.NewFromInt(1)))
}

func TestAddOrderPartialLocalMatch(t *testing.T) {
	book := NewOrderBook(nil)

	buy := testOrder("BTC", Buy, 100, 2, "peer-1")
	require.NotNil(t, book.AddOrder(buy))

	sell := testOrder("BTC", Sell, 100, 1, "peer-1")
	assert.Nil(t, book.AddOrder(sell))

	resident := book.GetUnfilledOrder(buy.ID)
	require.NotNil(t, resident)
	assert.True(t, resident.Remaining.Equal(decimal.NewFromInt(1)))
	assert.True(t, resident.Filled.Equal(decimal.NewFromInt(1)))
	assertConserved(t, resident)
	require.Len(t, resident.Fills, 1)
	assert.Equal(t, sell.ID, resident.Fills[0].OrderID)
	assert.True(t, resident.Fills[0].Quantity.Equal(decimal.NewFromInt(1)))

	snap := book.Snapshot()
	require.Len(t, snap.FilledOrders["BTC"], 1)
	assert.Equal(t, sell.ID, snap.FilledOrders["BTC"][0].ID)
}

func TestMatchRequiresCrossingPrices(t *testing.T) {
	book := NewOrderBook(nil)

	buy := testOrder("BTC", Buy, 90, 1, "peer-1")
	require.NotNil(t, book.AddOrder(buy))

	sell := testOrder("BTC", Sell, 100, 1, "peer-1")
	require.NotNil(t, book.AddOrder(sell))

	// Spread open, both stay resident untouched.
	assert.NotNil(t, book.GetUnfilledOrder(buy.ID))
	assert.NotNil(t, book.GetUnfilledOrder(sell.ID))
	assert.True(t, book.GetUnfilledOrder(buy.ID).Filled.IsZero())
}

func TestBookSortInvariants(t *testing.T) {
	book := NewOrderBook(nil)

	for _, price := range []int64{90, 110, 70, 100, 80} {
		require.NotNil(t, book.AddOrder(testOrder("BTC", Buy, price, 1, "peer-1")))
	}
	for _, price := range []int64{150, 130, 160, 120, 140} {
		require.NotNil(t, book.AddOrder(testOrder("BTC", Sell, price, 1, "peer-1")))
	}

	snap := book.Snapshot()

	buys := snap.BuyOrders["BTC"]
	require.Len(t, buys, 5)
	for i := 1; i < len(buys); i++ {
		assert.True(t, buys[i-1].Price.GreaterThanOrEqual(buys[i].Price),
			"buy book not descending at %d", i)
	}

	sells := snap.SellOrders["BTC"]
	require.Len(t, sells, 5)
	for i := 1; i < len(sells); i++ {
		assert.True(t, sells[i-1].Price.LessThanOrEqual(sells[i].Price),
			"sell book not ascending at %d", i)
	}
}

func TestTimePriorityAtEqualPrice(t *testing.T) {
	book := NewOrderBook(nil)

	first := testOrder("BTC", Sell, 100, 1, "peer-1")
	second := testOrder("BTC", Sell, 100, 1, "peer-1")
	require.NotNil(t, book.AddOrder(first))
	require.NotNil(t, book.AddOrder(second))

	assert.Nil(t, book.AddOrder(testOrder("BTC", Buy, 100, 1, "peer-1")))

	// The earlier sell at that price trades first.
	assert.Nil(t, book.GetUnfilledOrder(first.ID))
	assert.NotNil(t, book.GetUnfilledOrder(second.ID))
}

func TestFindMatchingOrders(t *testing.T) {
	book := NewOrderBook(nil)

	cheap := testOrder("BTC", Sell, 90, 1, "peer-2")
	fair := testOrder("BTC", Sell, 100, 1, "peer-2")
	expensive := testOrder("BTC", Sell, 110, 1, "peer-2")
	require.NotNil(t, book.AddOrder(cheap))
	require.NotNil(t, book.AddOrder(fair))
	require.NotNil(t, book.AddOrder(expensive))

	candidates := book.FindMatchingOrders("BTC", decimal.NewFromInt(100), Buy)
	require.Len(t, candidates, 2)

	ids := []string{candidates[0].ID, candidates[1].ID}
	assert.Contains(t, ids, cheap.ID)
	assert.Contains(t, ids, fair.ID)

	// Unknown item yields nothing.
	assert.Empty(t, book.FindMatchingOrders("ETH", decimal.NewFromInt(100), Buy))

	// Candidates are detached copies.
	candidates[0].Remaining = decimal.NewFromInt(42)
	assert.True(t, book.GetUnfilledOrder(candidates[0].ID).Remaining.Equal(decimal.NewFromInt(1)))
}

func TestFindMatchingOrdersSellInquiry(t *testing.T) {
	book := NewOrderBook(nil)

	low := testOrder("BTC", Buy, 90, 1, "peer-2")
	high := testOrder("BTC", Buy, 110, 1, "peer-2")
	require.NotNil(t, book.AddOrder(low))
	require.NotNil(t, book.AddOrder(high))

	candidates := book.FindMatchingOrders("BTC", decimal.NewFromInt(100), Sell)
	require.Len(t, candidates, 1)
	assert.Equal(t, high.ID, candidates[0].ID)
}

func TestGetUnfilledOrderIdempotent(t *testing.T) {
	book := NewOrderBook(nil)

	assert.Nil(t, book.GetUnfilledOrder("missing"))
	assert.Nil(t, book.GetUnfilledOrder("missing"))

	order := testOrder("BTC", Buy, 100, 1, "peer-1")
	require.NotNil(t, book.AddOrder(order))

	first := book.GetUnfilledOrder(order.ID)
	second := book.GetUnfilledOrder(order.ID)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.Remaining.Equal(second.Remaining))
}

func TestRemoveOrderNoopWhenAbsent(t *testing.T) {
	book := NewOrderBook(nil)

	book.RemoveOrder(testOrder("BTC", Buy, 100, 1, "peer-1"))

	order := testOrder("BTC", Buy, 100, 1, "peer-1")
	require.NotNil(t, book.AddOrder(order))
	book.RemoveOrder(order)
	assert.Nil(t, book.GetUnfilledOrder(order.ID))

	book.RemoveOrder(order)
}

func TestSnapshotIsDetached(t *testing.T) {
	book := NewOrderBook(nil)

	order := testOrder("BTC", Buy, 100, 2, "peer-1")
	require.NotNil(t, book.AddOrder(order))

	snap := book.Snapshot()
	require.Len(t, snap.BuyOrders["BTC"], 1)

	snap.BuyOrders["BTC"][0].Remaining = decimal.Zero
	snap.BuyOrders["BTC"][0].Fills = append(snap.BuyOrders["BTC"][0].Fills, Fill{OrderID: "x"})

	resident := book.GetUnfilledOrder(order.ID)
	require.NotNil(t, resident)
	assert.True(t, resident.Remaining.Equal(decimal.NewFromInt(2)))
	assert.Empty(t, resident.Fills)
}

func TestApplyFillArchivesAtZero(t *testing.T) {
	book := NewOrderBook(nil)

	order := testOrder("BTC", Buy, 100, 2, "peer-1")
	require.NotNil(t, book.AddOrder(order))

	remaining, err := book.ApplyFill(order.ID, "cp-1", "peer-2", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, remaining.Equal(decimal.NewFromInt(1)))

	remaining, err = book.ApplyFill(order.ID, "cp-2", "peer-3", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, remaining.IsZero())

	assert.Nil(t, book.GetUnfilledOrder(order.ID))

	snap := book.Snapshot()
	require.Len(t, snap.FilledOrders["BTC"], 1)
	archived := snap.FilledOrders["BTC"][0]
	assertConserved(t, archived)
	require.Len(t, archived.Fills, 2)

	_, err = book.ApplyFill(order.ID, "cp-3", "peer-4", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrStaleOrder)
}

func TestFillAgainst(t *testing.T) {
	book := NewOrderBook(nil)

	candidate := testOrder("BTC", Sell, 100, 2, "peer-1")
	require.NotNil(t, book.AddOrder(candidate))

	remote := testOrder("BTC", Buy, 100, 1, "peer-2")
	traded, err := book.FillAgainst(candidate.ID, remote)
	require.NoError(t, err)
	assert.True(t, traded.Equal(decimal.NewFromInt(1)))

	resident := book.GetUnfilledOrder(candidate.ID)
	require.NotNil(t, resident)
	assert.True(t, resident.Remaining.Equal(decimal.NewFromInt(1)))
	require.Len(t, resident.Fills, 1)
	assert.Equal(t, remote.ID, resident.Fills[0].OrderID)
	assert.Equal(t, "peer-2", resident.Fills[0].PeerID)

	// Second remote takes the rest; candidate archives.
	remote2 := testOrder("BTC", Buy, 100, 5, "peer-3")
	traded, err = book.FillAgainst(candidate.ID, remote2)
	require.NoError(t, err)
	assert.True(t, traded.Equal(decimal.NewFromInt(1)))
	assert.Nil(t, book.GetUnfilledOrder(candidate.ID))

	_, err = book.FillAgainst(candidate.ID, remote2)
	assert.ErrorIs(t, err, ErrStaleOrder)
}

func TestFillAgainstBusyWhileNegotiating(t *testing.T) {
	book := NewOrderBook(nil)

	order := testOrder("BTC", Sell, 100, 1, "peer-1")
	require.NotNil(t, book.AddOrder(order))

	book.EnqueueCandidates(order.ID, []*Order{testOrder("BTC", Buy, 100, 1, "peer-9")})
	_, ok := book.BeginNegotiation(order.ID)
	require.True(t, ok)

	_, err := book.FillAgainst(order.ID, testOrder("BTC", Buy, 100, 1, "peer-2"))
	assert.ErrorIs(t, err, ErrOrderBusy)

	book.EndNegotiation(order.ID)

	_, err = book.FillAgainst(order.ID, testOrder("BTC", Buy, 100, 1, "peer-2"))
	assert.NoError(t, err)
}

func TestBeginNegotiationExclusive(t *testing.T) {
	book := NewOrderBook(nil)

	order := testOrder("BTC", Buy, 100, 1, "peer-1")
	require.NotNil(t, book.AddOrder(order))
	book.EnqueueCandidates(order.ID, []*Order{testOrder("BTC", Sell, 100, 1, "peer-2")})

	candidates, ok := book.BeginNegotiation(order.ID)
	require.True(t, ok)
	require.Len(t, candidates, 1)

	_, ok = book.BeginNegotiation(order.ID)
	assert.False(t, ok)

	book.EndNegotiation(order.ID)

	// Queue dropped with the finished sequence.
	assert.Empty(t, book.PendingOrderIDs())
	_, ok = book.BeginNegotiation(order.ID)
	assert.False(t, ok)
}

func TestEnqueueCandidatesDetachesInput(t *testing.T) {
	book := NewOrderBook(nil)

	order := testOrder("BTC", Buy, 100, 1, "peer-1")
	require.NotNil(t, book.AddOrder(order))

	candidate := testOrder("BTC", Sell, 100, 1, "peer-2")
	book.EnqueueCandidates(order.ID, []*Order{candidate})

	candidate.Remaining = decimal.NewFromInt(42)
	candidate.Discarded = true

	snap := book.Snapshot()
	require.Len(t, snap.MatchedOrdersQueue[order.ID], 1)
	queued := snap.MatchedOrdersQueue[order.ID][0]
	assert.True(t, queued.Remaining.Equal(decimal.NewFromInt(1)))
	assert.False(t, queued.Discarded)
}

func TestCandidateOutcomeOwnedByBook(t *testing.T) {
	book := NewOrderBook(nil)

	order := testOrder("BTC", Buy, 100, 2, "peer-1")
	require.NotNil(t, book.AddOrder(order))

	failed := testOrder("BTC", Sell, 100, 1, "peer-2")
	traded := testOrder("BTC", Sell, 100, 1, "peer-3")
	book.EnqueueCandidates(order.ID, []*Order{failed, traded})

	book.DiscardCandidate(order.ID, failed.ID)
	book.MarkCandidateMatched(order.ID, traded.ID)

	snap := book.Snapshot()
	queued := snap.MatchedOrdersQueue[order.ID]
	require.Len(t, queued, 2)
	assert.True(t, queued[0].Discarded)
	assert.False(t, queued[0].Matched)
	assert.True(t, queued[1].Matched)
	assert.False(t, queued[1].Discarded)

	// The caller's orders are never touched.
	assert.False(t, failed.Discarded)
	assert.False(t, traded.Matched)
}

func TestBeginNegotiationReturnsDetachedCandidates(t *testing.T) {
	book := NewOrderBook(nil)

	order := testOrder("BTC", Buy, 100, 1, "peer-1")
	require.NotNil(t, book.AddOrder(order))
	book.EnqueueCandidates(order.ID, []*Order{testOrder("BTC", Sell, 100, 1, "peer-2")})

	candidates, ok := book.BeginNegotiation(order.ID)
	require.True(t, ok)
	require.Len(t, candidates, 1)

	candidates[0].Discarded = true
	candidates[0].Remaining = decimal.NewFromInt(42)

	snap := book.Snapshot()
	queued := snap.MatchedOrdersQueue[order.ID][0]
	assert.False(t, queued.Discarded)
	assert.True(t, queued.Remaining.Equal(decimal.NewFromInt(1)))

	book.EndNegotiation(order.ID)
}

func TestBeginNegotiationDropsStaleQueue(t *testing.T) {
	book := NewOrderBook(nil)

	book.EnqueueCandidates("gone", []*Order{testOrder("BTC", Sell, 100, 1, "peer-2")})
	require.Len(t, book.PendingOrderIDs(), 1)

	_, ok := book.BeginNegotiation("gone")
	assert.False(t, ok)
	assert.Empty(t, book.PendingOrderIDs())
}

func TestLocalMatchSkipsInFlightOrder(t *testing.T) {
	book := NewOrderBook(nil)

	sell := testOrder("BTC", Sell, 100, 1, "peer-1")
	require.NotNil(t, book.AddOrder(sell))

	book.EnqueueCandidates(sell.ID, []*Order{testOrder("BTC", Buy, 100, 1, "peer-9")})
	_, ok := book.BeginNegotiation(sell.ID)
	require.True(t, ok)

	// The crossing buy must not consume quantity that is mid-negotiation.
	buy := testOrder("BTC", Buy, 100, 1, "peer-1")
	require.NotNil(t, book.AddOrder(buy))
	assert.True(t, book.GetUnfilledOrder(sell.ID).Remaining.Equal(decimal.NewFromInt(1)))

	book.EndNegotiation(sell.ID)
}
