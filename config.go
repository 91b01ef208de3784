package exchange

import "time"

// Config holds the protocol-level settings of one node.
type Config struct {
	// BroadcastKey is the shared topic every node announces on and
	// publishes ORDER_PLACED messages to.
	BroadcastKey string

	// AnnounceInterval is how often the node refreshes its presence for
	// both the broadcast key and its own peer id.
	AnnounceInterval time.Duration

	// RequestTimeout bounds every direct request to a peer. A timed-out
	// FILL_ORDER is treated like any other transport failure.
	RequestTimeout time.Duration

	// DrainInterval is the period of the drain pass over orders with
	// pending candidates.
	DrainInterval time.Duration
}

// DefaultConfig mirrors the stock deployment settings.
func DefaultConfig() Config {
	return Config{
		BroadcastKey:     "broadcast",
		AnnounceInterval: time.Second,
		RequestTimeout:   5 * time.Second,
		DrainInterval:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BroadcastKey == "" {
		c.BroadcastKey = def.BroadcastKey
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = def.AnnounceInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = def.DrainInterval
	}
	return c
}
