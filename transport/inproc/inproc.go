// Package inproc is an in-process transport: every peer shares one Hub and
// requests are direct function calls. It backs tests and single-process
// clusters.
package inproc

import (
	"context"
	"sync"

	"github.com/AceTheNinja/bfx-challenge/protocol"
	"github.com/AceTheNinja/bfx-challenge/transport"
)

// Hub is the shared rendezvous between in-process peers. The zero value is
// not usable; create one with NewHub.
type Hub struct {
	mu    sync.RWMutex
	peers map[string][]*Transport // key -> announced peers, announcement order
}

func NewHub() *Hub {
	return &Hub{
		peers: make(map[string][]*Transport),
	}
}

func (h *Hub) announce(key string, t *Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range h.peers[key] {
		if p == t {
			return
		}
	}
	h.peers[key] = append(h.peers[key], t)
}

func (h *Hub) holders(key string) []*Transport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	holders := make([]*Transport, len(h.peers[key]))
	copy(holders, h.peers[key])
	return holders
}

func (h *Hub) drop(t *Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, peers := range h.peers {
		kept := peers[:0]
		for _, p := range peers {
			if p != t {
				kept = append(kept, p)
			}
		}
		h.peers[key] = kept
	}
}

// Transport is one peer's handle on the hub.
type Transport struct {
	hub      *Hub
	mu       sync.RWMutex
	handlers map[string]transport.Handler
	closed   bool
}

func New(hub *Hub) *Transport {
	return &Transport{
		hub:      hub,
		handlers: make(map[string]transport.Handler),
	}
}

func (t *Transport) Announce(ctx context.Context, key string) error {
	if t.isClosed() {
		return transport.ErrClosed
	}

	t.hub.announce(key, t)
	return nil
}

func (t *Transport) Subscribe(key string, h transport.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrClosed
	}
	t.handlers[key] = h
	return nil
}

func (t *Transport) handler(key string) transport.Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil
	}
	return t.handlers[key]
}

// Request delivers the envelope to the first announced holder of key that
// has a handler installed and returns its reply.
func (t *Transport) Request(ctx context.Context, key string, env *protocol.Envelope) (*protocol.Envelope, error) {
	if t.isClosed() {
		return nil, transport.ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, peer := range t.hub.holders(key) {
		h := peer.handler(key)
		if h == nil {
			continue
		}
		return h(ctx, key, env)
	}

	return nil, transport.ErrNoPeers
}

// Broadcast delivers the envelope to every announced holder of key,
// including the sender. Replies and per-peer errors are discarded.
func (t *Transport) Broadcast(ctx context.Context, key string, env *protocol.Envelope) error {
	if t.isClosed() {
		return transport.ErrClosed
	}

	holders := t.hub.holders(key)
	if len(holders) == 0 {
		return transport.ErrNoPeers
	}

	for _, peer := range holders {
		h := peer.handler(key)
		if h == nil {
			continue
		}
		_, _ = h(ctx, key, env)
	}

	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.hub.drop(t)
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
