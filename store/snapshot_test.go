package store

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exchange "github.com/AceTheNinja/bfx-challenge"
)

func testSnapshot(remaining int64) *exchange.OrderBookSnapshot {
	book := exchange.NewOrderBook(nil)
	book.AddOrder(exchange.NewOrder("BTC", exchange.Buy, decimal.NewFromInt(100), decimal.NewFromInt(remaining), "peer-1"))
	return book.Snapshot()
}

func TestLatestOnEmptyStore(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Latest()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestSaveAndLatest(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	seq, err := s.Save(testSnapshot(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = s.Save(testSnapshot(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	snap, seq, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
	require.Len(t, snap.BuyOrders["BTC"], 1)
	assert.True(t, snap.BuyOrders["BTC"][0].Remaining.Equal(decimal.NewFromInt(2)))

	// Earlier snapshots stay addressable.
	snap, _, err = s.Get(1)
	require.NoError(t, err)
	assert.True(t, snap.BuyOrders["BTC"][0].Remaining.Equal(decimal.NewFromInt(1)))
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.Save(testSnapshot(1))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	seq, err := s.Save(testSnapshot(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
}
