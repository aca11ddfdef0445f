package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDuplicate is returned for an event id matched inside the dedup window.
// The caller must still acknowledge the provider delivery.
var ErrDuplicate = fmt.Errorf("events: duplicate delivery")

const defaultDedupTTL = 6 * time.Hour

// DedupWindow is a short-lived guard against at-least-once redeliveries.
// A fast Redis window answers most duplicates; the durable processed_events
// table backs it across restarts. When Redis is unavailable the store alone
// provides idempotence.
type DedupWindow struct {
	redis *redis.Client
	store *ProcessedStore
	ttl   time.Duration
}

func NewDedupWindow(client *redis.Client, store *ProcessedStore) *DedupWindow {
	if store == nil {
		panic("events: processed store required")
	}
	return &DedupWindow{redis: client, store: store, ttl: defaultDedupTTL}
}

// Seen reports whether the event was already handled.
func (d *DedupWindow) Seen(ctx context.Context, ev Inbound) (bool, error) {
	if d.redis != nil {
		n, err := d.redis.Exists(ctx, dedupKey(ev)).Result()
		if err == nil && n > 0 {
			return true, nil
		}
		// fall through to the durable store on miss or redis failure
	}
	return d.store.AlreadyProcessed(ctx, ev.Channel, ev.EventID)
}

// Mark records the event as handled. Call only after the turn committed.
func (d *DedupWindow) Mark(ctx context.Context, ev Inbound) error {
	if _, err := d.store.MarkProcessed(ctx, ev.Channel, ev.EventID); err != nil {
		return err
	}
	if d.redis != nil {
		if err := d.redis.Set(ctx, dedupKey(ev), 1, d.ttl).Err(); err != nil {
			// durable mark already succeeded, window miss is recoverable
			return nil
		}
	}
	return nil
}

func dedupKey(ev Inbound) string {
	return "dedup:" + ev.Key()
}
