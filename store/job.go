package store

import (
	"context"
	"log/slog"
	"os"
	"time"

	exchange "github.com/AceTheNinja/bfx-challenge"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger allows setting a custom logger
func SetLogger(l *slog.Logger) {
	logger = l
}

// Job periodically captures a book snapshot and saves it to the store.
type Job struct {
	store    *SnapshotStore
	source   func() *exchange.OrderBookSnapshot
	interval time.Duration
}

func NewJob(store *SnapshotStore, source func() *exchange.OrderBookSnapshot, interval time.Duration) *Job {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &Job{
		store:    store,
		source:   source,
		interval: interval,
	}
}

// Run saves snapshots on the interval until the context is cancelled, then
// saves one final snapshot on the way out.
func (j *Job) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.save()
			return ctx.Err()
		case <-ticker.C:
			j.save()
		}
	}
}

func (j *Job) save() {
	seq, err := j.store.Save(j.source())
	if err != nil {
		logger.Error("save snapshot", "error", err)
		return
	}
	logger.Debug("snapshot saved", "seq", seq)
}
