package calendar

import (
	"context"

	"github.com/google/uuid"

	"github.com/guzmanclinic/anabot/pkg/logging"
)

// Noop is used when no external calendar is configured (development, tests).
// It hands back synthetic event ids so the booking pipeline behaves the same.
type Noop struct {
	logger *logging.Logger
}

func NewNoop(logger *logging.Logger) *Noop {
	if logger == nil {
		logger = logging.Default()
	}
	return &Noop{logger: logger}
}

func (n *Noop) CreateEvent(ctx context.Context, req EventRequest) (*Event, error) {
	id := "local-" + uuid.NewString()
	n.logger.Debug("calendar disabled, issuing local event id", "event_id", id, "start", req.Start)
	return &Event{ID: id}, nil
}

func (n *Noop) DeleteEvent(ctx context.Context, eventID string) error {
	n.logger.Debug("calendar disabled, skipping event deletion", "event_id", eventID)
	return nil
}
