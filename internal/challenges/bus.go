package challenges

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventKind names a challenge event.
type EventKind string

const (
	// KindFollow is dispatched when a user follows another user.
	KindFollow EventKind = "follow"
	// KindFavorite is dispatched when a user saves a track or playlist.
	KindFavorite EventKind = "favorite"
	// KindRepost is dispatched when a user reposts a track or playlist.
	KindRepost EventKind = "repost"
	// KindTrackUpload is dispatched when a user uploads a track.
	KindTrackUpload EventKind = "track_upload"
	// KindConnectVerified is dispatched when a user links a dashboard wallet.
	KindConnectVerified EventKind = "connect_verified"
)

var errMissingSink = errors.New("challenges: sink is required")

// Event is one queued dispatch.
type Event struct {
	Kind        EventKind
	BlockNumber int64
	UserID      int64
	Extra       map[string]interface{}
}

// Dispatcher accepts fire-and-forget challenge events.
type Dispatcher interface {
	Dispatch(kind EventKind, blockNumber int64, userID int64, extra map[string]interface{})
}

// Sink persists flushed events.
type Sink interface {
	Record(ctx context.Context, events []Event) error
}

// Queue buffers events for one block. Nothing reaches the sink until the
// owning Bus flushes it.
type Queue struct {
	events []Event
}

// Dispatch buffers an event.
func (q *Queue) Dispatch(kind EventKind, blockNumber int64, userID int64, extra map[string]interface{}) {
	q.events = append(q.events, Event{Kind: kind, BlockNumber: blockNumber, UserID: userID, Extra: extra})
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.events)
}

// Truncate drops every event buffered after the first n.
func (q *Queue) Truncate(n int) {
	if n < 0 || n >= len(q.events) {
		return
	}
	q.events = q.events[:n]
}

// Events returns a copy of the buffered events.
func (q *Queue) Events() []Event {
	return append([]Event(nil), q.events...)
}

// Bus hands out scoped queues and flushes them to a sink once a block commits.
type Bus struct {
	sink   Sink
	logger *zap.Logger
}

// NewBus constructs a Bus.
func NewBus(sink Sink, logger *zap.Logger) (*Bus, error) {
	if sink == nil {
		return nil, errMissingSink
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{sink: sink, logger: logger}, nil
}

// UseScopedDispatchQueue returns an empty queue bound to one block.
func (b *Bus) UseScopedDispatchQueue() *Queue {
	return &Queue{}
}

// Flush records every queued event. Call only after the block committed.
func (b *Bus) Flush(ctx context.Context, queue *Queue) error {
	if queue == nil || len(queue.events) == 0 {
		return nil
	}
	if err := b.sink.Record(ctx, queue.events); err != nil {
		b.logger.Error("challenge flush failed", zap.Int("events", len(queue.events)), zap.Error(err))
		return fmt.Errorf("challenges: flush: %w", err)
	}
	b.logger.Debug("challenge events flushed", zap.Int("events", len(queue.events)))
	queue.events = nil
	return nil
}

// StoreSink writes events to the challenge_events table.
type StoreSink struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStoreSink constructs a StoreSink.
func NewStoreSink(db *gorm.DB, clock func() time.Time) *StoreSink {
	if clock == nil {
		clock = time.Now
	}
	return &StoreSink{db: db, clock: clock}
}

// Record inserts the events in one transaction.
func (s *StoreSink) Record(ctx context.Context, events []Event) error {
	rows := make([]models.ChallengeEvent, 0, len(events))
	for _, event := range events {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		var extra models.JSONText
		if len(event.Extra) > 0 {
			encoded, err := json.Marshal(event.Extra)
			if err != nil {
				return err
			}
			extra = models.JSONText(encoded)
		}
		rows = append(rows, models.ChallengeEvent{
			ID:          id.String(),
			Kind:        string(event.Kind),
			UserID:      event.UserID,
			BlockNumber: event.BlockNumber,
			Extra:       extra,
			CreatedAt:   s.clock().UTC(),
		})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}
