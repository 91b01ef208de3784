// Package transport defines the request/broadcast network the exchange node
// runs on. Peers announce themselves under keys: every node announces the
// shared broadcast key and its own peer id, so other peers can resolve it as
// a direct-channel destination.
package transport

import (
	"context"
	"errors"

	"github.com/AceTheNinja/bfx-challenge/protocol"
)

var (
	// ErrNoPeers is returned by Request and Broadcast when no peer is
	// announced under the key.
	ErrNoPeers = errors.New("transport: no peers announced for key")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")
)

// Handler serves one inbound request. key is the channel the request was
// addressed to: the broadcast key or the receiving peer's own id. The
// returned envelope is delivered to the requester as the reply.
type Handler func(ctx context.Context, key string, env *protocol.Envelope) (*protocol.Envelope, error)

// Transport is the external collaborator contract: announced keys,
// request/reply with a configured timeout, and broadcast fan-out. It says
// nothing about delivery guarantees beyond that; a request that errors or
// times out is ambiguous and may or may not have been processed.
type Transport interface {
	// Announce registers this peer as a holder of key. Announcements may
	// expire; callers re-announce on an interval.
	Announce(ctx context.Context, key string) error

	// Subscribe installs the handler for requests addressed to key.
	Subscribe(key string, h Handler) error

	// Request sends the envelope to one peer holding key and waits for its
	// reply, honoring ctx for the timeout.
	Request(ctx context.Context, key string, env *protocol.Envelope) (*protocol.Envelope, error)

	// Broadcast delivers the envelope to every peer announced under key,
	// including the sender if it holds the key; receivers filter their own
	// messages by source. Per-peer failures are not fatal.
	Broadcast(ctx context.Context, key string, env *protocol.Envelope) error

	Close() error
}
