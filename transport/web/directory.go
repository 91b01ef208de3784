package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// Directory is the peer registry the web transport resolves keys against:
// peers announce (key, address) pairs on an interval and look keys up to
// find request destinations. Registrations expire after the TTL, so a
// crashed peer disappears once it stops re-announcing.
type Directory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]map[string]time.Time // key -> address -> last announce
}

func NewDirectory(ttl time.Duration) *Directory {
	return &Directory{
		ttl:     ttl,
		entries: make(map[string]map[string]time.Time),
	}
}

type announceRequest struct {
	Key     string `json:"key"`
	Address string `json:"address"`
}

type lookupResponse struct {
	Addresses []string `json:"addresses"`
}

// Handler returns the HTTP surface of the directory.
func (d *Directory) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/announce", d.handleAnnounce).Methods(http.MethodPost)
	router.HandleFunc("/lookup", d.handleLookup).Methods(http.MethodGet)
	return router
}

func (d *Directory) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req announceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" || req.Address == "" {
		http.Error(w, "invalid announce request", http.StatusBadRequest)
		return
	}

	d.Announce(req.Key, req.Address)
	w.WriteHeader(http.StatusNoContent)
}

func (d *Directory) handleLookup(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	resp := lookupResponse{Addresses: d.Lookup(key)}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&resp)
}

// Announce registers an address as a holder of key, refreshing its TTL.
func (d *Directory) Announce(key, address string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	holders, ok := d.entries[key]
	if !ok {
		holders = make(map[string]time.Time)
		d.entries[key] = holders
	}
	holders[address] = time.Now()
}

// Lookup returns the live addresses announced under key, purging expired
// registrations on the way.
func (d *Directory) Lookup(key string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	holders := d.entries[key]
	deadline := time.Now().Add(-d.ttl)

	addresses := make([]string, 0, len(holders))
	for address, seen := range holders {
		if seen.Before(deadline) {
			delete(holders, address)
			continue
		}
		addresses = append(addresses, address)
	}

	if len(holders) == 0 {
		delete(d.entries, key)
	}

	return addresses
}
