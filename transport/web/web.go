// Package web is the production transport: JSON over HTTP between peers,
// with key resolution through a shared Directory. Broadcast is a fan-out of
// direct requests to every address announced under the key, so delivery is
// at-most-once per peer and a failed peer simply misses the message.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/xid"

	"github.com/AceTheNinja/bfx-challenge/protocol"
	"github.com/AceTheNinja/bfx-challenge/transport"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger allows setting a custom logger
func SetLogger(l *slog.Logger) {
	logger = l
}

// Config configures one peer's transport endpoint.
type Config struct {
	// DirectoryURL is the base URL of the shared Directory service.
	DirectoryURL string

	// ListenAddress is the TCP address to serve inbound requests on.
	// Use port 0 to pick a free port.
	ListenAddress string

	// AdvertiseAddress is the host:port other peers should dial. Defaults
	// to the bound listen address.
	AdvertiseAddress string

	// RequestTimeout bounds every outbound request, announces included.
	RequestTimeout time.Duration
}

type requestPayload struct {
	Key      string             `json:"key"`
	Envelope *protocol.Envelope `json:"envelope"`
}

// Transport implements transport.Transport over HTTP.
type Transport struct {
	cfg      Config
	client   *http.Client
	server   *http.Server
	listener net.Listener

	mu       sync.RWMutex
	handlers map[string]transport.Handler
	closed   bool
}

// New binds the listen address and starts serving inbound peer requests.
func New(cfg Config) (*Transport, error) {
	if cfg.DirectoryURL == "" || cfg.ListenAddress == "" {
		return nil, fmt.Errorf("web: directory url and listen address are required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("web: listen on %s: %w", cfg.ListenAddress, err)
	}

	t := &Transport{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		listener: listener,
		handlers: make(map[string]transport.Handler),
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/request", t.handlePeerRequest).Methods(http.MethodPost)

	t.server = &http.Server{Handler: router}
	go func() {
		if err := t.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("web: server stopped", "error", err)
		}
	}()

	return t, nil
}

// Addr returns the address other peers should dial.
func (t *Transport) Addr() string {
	if t.cfg.AdvertiseAddress != "" {
		return t.cfg.AdvertiseAddress
	}
	return t.listener.Addr().String()
}

func (t *Transport) handlePeerRequest(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Envelope == nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	h := t.handler(payload.Key)
	if h == nil {
		http.Error(w, "unknown key", http.StatusNotFound)
		return
	}

	reply, err := h(r.Context(), payload.Key, payload.Envelope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

func (t *Transport) handler(key string) transport.Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handlers[key]
}

// Announce registers this peer as a holder of key with the directory.
func (t *Transport) Announce(ctx context.Context, key string) error {
	if t.isClosed() {
		return transport.ErrClosed
	}

	body, err := json.Marshal(&announceRequest{Key: key, Address: t.Addr()})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.DirectoryURL+"/announce", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("web: announce %s: directory returned %d", key, resp.StatusCode)
	}
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

func (t *Transport) lookup(ctx context.Context, key string) ([]string, error) {
	u := t.cfg.DirectoryURL + "/lookup?key=" + url.QueryEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web: lookup %s: directory returned %d", key, resp.StatusCode)
	}

	var result lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Addresses, nil
}

func (t *Transport) send(ctx context.Context, address, key string, env *protocol.Envelope) (*protocol.Envelope, error) {
	body, err := json.Marshal(&requestPayload{Key: key, Envelope: env})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+address+"/v1/request", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web: peer %s returned %d", address, resp.StatusCode)
	}

	var reply protocol.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Request resolves the key and sends the envelope to the announced holders
// in order until one of them replies.
func (t *Transport) Request(ctx context.Context, key string, env *protocol.Envelope) (*protocol.Envelope, error) {
	if t.isClosed() {
		return nil, transport.ErrClosed
	}

	if env.RequestID == "" {
		env.RequestID = xid.New().String()
	}

	addresses, err := t.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(addresses) == 0 {
		return nil, transport.ErrNoPeers
	}

	var lastErr error
	for _, address := range addresses {
		reply, err := t.send(ctx, address, key, env)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Broadcast fans the envelope out to every announced holder of the key.
// Per-peer failures are logged and do not fail the broadcast.
func (t *Transport) Broadcast(ctx context.Context, key string, env *protocol.Envelope) error {
	if t.isClosed() {
		return transport.ErrClosed
	}

	if env.RequestID == "" {
		env.RequestID = xid.New().String()
	}

	addresses, err := t.lookup(ctx, key)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return transport.ErrNoPeers
	}

	for _, address := range addresses {
		if _, err := t.send(ctx, address, key, env); err != nil {
			logger.Warn("web: broadcast delivery failed",
				"key", key,
				"peer", address,
				"rid", env.RequestID,
				"error", err)
		}
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

	t.client.CloseIdleConnections()
	return t.server.Close()
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
