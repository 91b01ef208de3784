package inproc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AceTheNinja/bfx-challenge/protocol"
	"github.com/AceTheNinja/bfx-challenge/transport"
)

func echoHandler(source string) transport.Handler {
	return func(ctx context.Context, key string, env *protocol.Envelope) (*protocol.Envelope, error) {
		return &protocol.Envelope{Type: env.Type, Source: source, Body: env.Body}, nil
	}
}

func TestRequestReachesAnnouncedPeer(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	server := New(hub)
	require.NoError(t, server.Subscribe("peer-1", echoHandler("peer-1")))
	require.NoError(t, server.Announce(ctx, "peer-1"))

	client := New(hub)
	reply, err := client.Request(ctx, "peer-1", &protocol.Envelope{
		Type:   protocol.MessageFillOrder,
		Source: "peer-2",
		Body:   []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "peer-1", reply.Source)
	assert.Equal(t, protocol.MessageFillOrder, reply.Type)
}

func TestRequestNoPeers(t *testing.T) {
	hub := NewHub()

	client := New(hub)
	_, err := client.Request(context.Background(), "nobody", &protocol.Envelope{
		Type: protocol.MessageFillOrder,
	})
	assert.ErrorIs(t, err, transport.ErrNoPeers)
}

func TestBroadcastFansOutToAllHolders(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	received := make(chan string, 3)
	subscribe := func(name string) *Transport {
		tr := New(hub)
		require.NoError(t, tr.Subscribe("topic", func(ctx context.Context, key string, env *protocol.Envelope) (*protocol.Envelope, error) {
			received <- name
			return &protocol.Envelope{Type: env.Type, Source: name}, nil
		}))
		require.NoError(t, tr.Announce(ctx, "topic"))
		return tr
	}

	a := subscribe("a")
	subscribe("b")
	subscribe("c")

	// The sender holds the topic too and receives its own broadcast.
	err := a.Broadcast(ctx, "topic", &protocol.Envelope{Type: protocol.MessageOrderPlaced, Source: "a"})
	require.NoError(t, err)
	assert.Len(t, received, 3)
}

func TestClosedTransportDropsOut(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	server := New(hub)
	require.NoError(t, server.Subscribe("peer-1", echoHandler("peer-1")))
	require.NoError(t, server.Announce(ctx, "peer-1"))
	require.NoError(t, server.Close())

	client := New(hub)
	_, err := client.Request(ctx, "peer-1", &protocol.Envelope{Type: protocol.MessageFillOrder})
	assert.ErrorIs(t, err, transport.ErrNoPeers)

	assert.ErrorIs(t, server.Announce(ctx, "peer-1"), transport.ErrClosed)
}
