package challenges

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type recordingSink struct {
	recorded [][]Event
	err      error
}

func (s *recordingSink) Record(_ context.Context, events []Event) error {
	if s.err != nil {
		return s.err
	}
	s.recorded = append(s.recorded, append([]Event(nil), events...))
	return nil
}

func TestScopedQueueHoldsEventsUntilFlush(t *testing.T) {
	sink := &recordingSink{}
	bus, err := NewBus(sink, nil)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}

	queue := bus.UseScopedDispatchQueue()
	queue.Dispatch(KindFollow, 10, 1, nil)
	queue.Dispatch(KindRepost, 10, 2, map[string]interface{}{"item_id": 5})
	if len(sink.recorded) != 0 {
		t.Fatalf("events must not reach the sink before flush")
	}

	if err := bus.Flush(context.Background(), queue); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(sink.recorded) != 1 || len(sink.recorded[0]) != 2 {
		t.Fatalf("expected one batch of two events, got %#v", sink.recorded)
	}
	if queue.Len() != 0 {
		t.Fatalf("expected queue to be drained after flush")
	}
}

func TestQueueTruncateDropsLaterEvents(t *testing.T) {
	queue := &Queue{}
	queue.Dispatch(KindFollow, 1, 1, nil)
	mark := queue.Len()
	queue.Dispatch(KindFavorite, 1, 1, nil)
	queue.Dispatch(KindRepost, 1, 1, nil)

	queue.Truncate(mark)

	events := queue.Events()
	if len(events) != 1 || events[0].Kind != KindFollow {
		t.Fatalf("unexpected events after truncate: %#v", events)
	}
}

func TestFlushPropagatesSinkError(t *testing.T) {
	sink := &recordingSink{err: errors.New("boom")}
	bus, err := NewBus(sink, nil)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	queue := bus.UseScopedDispatchQueue()
	queue.Dispatch(KindFollow, 1, 1, nil)

	if err := bus.Flush(context.Background(), queue); err == nil {
		t.Fatalf("expected flush error")
	}
	if queue.Len() != 1 {
		t.Fatalf("failed flush must keep queued events")
	}
}

func TestStoreSinkPersistsEvents(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "challenges.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.ChallengeEvent{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	sink := NewStoreSink(db, func() time.Time { return time.Unix(1700000000, 0) })

	err = sink.Record(context.Background(), []Event{
		{Kind: KindFavorite, BlockNumber: 3, UserID: 9, Extra: map[string]interface{}{"item_type": "track"}},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	var stored []models.ChallengeEvent
	if err := db.Find(&stored).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected one stored event, got %d", len(stored))
	}
	if stored[0].Kind != string(KindFavorite) || stored[0].UserID != 9 || stored[0].BlockNumber != 3 {
		t.Fatalf("unexpected stored event: %#v", stored[0])
	}
	if stored[0].Extra != `{"item_type":"track"}` {
		t.Fatalf("unexpected extra payload: %s", stored[0].Extra)
	}
}
