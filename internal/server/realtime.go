package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/entitymanager"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/indexer"
)

const (
	RealtimeEventBlockCommitted = "block-committed"
	realtimeEventHeartbeat      = "heartbeat"
	realtimeSourceBackend       = "chorus-indexer"
	realtimeHeartbeatInterval   = 15 * time.Second
)

type RealtimeMessage struct {
	EventType string
	Summary   indexer.BlockSummary
	Timestamp time.Time
}

// touches reports whether the block changed any entity of entityType.
// An empty entityType matches every block.
func (m RealtimeMessage) touches(entityType entitymanager.EntityType) bool {
	if entityType == "" {
		return true
	}
	return len(m.Summary.ChangedEntityIDs[entityType]) > 0
}

// RealtimeDispatcher fans committed block summaries out to stream
// subscribers. Slow subscribers miss messages instead of blocking commits.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id         int64
	entityType entitymanager.EntityType
	stream     chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

// Subscribe registers a stream of committed blocks, optionally restricted
// to blocks that changed entityType.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, entityType entitymanager.EntityType) (<-chan RealtimeMessage, func()) {
	subscriber := &realtimeSubscriber{
		entityType: entityType,
		stream:     make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish implements indexer.CommitPublisher.
func (d *RealtimeDispatcher) Publish(summary indexer.BlockSummary) {
	message := RealtimeMessage{
		EventType: RealtimeEventBlockCommitted,
		Summary:   summary,
		Timestamp: d.clock().UTC(),
	}
	d.mu.RLock()
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		if message.touches(subscriber.entityType) {
			copies = append(copies, subscriber)
		}
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}

type blockEventPayload struct {
	Source           string             `json:"source"`
	BlockNumber      int64              `json:"blockNumber"`
	BlockHash        string             `json:"blockHash"`
	TotalChanges     int                `json:"totalChanges"`
	ChangedEntityIDs map[string][]int64 `json:"changedEntityIds"`
	Timestamp        string             `json:"timestamp"`
}

type heartbeatPayload struct {
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

func (h *httpHandler) handleBlockStream(c *gin.Context) {
	entityType := entitymanager.EntityType(strings.TrimSpace(c.Query("entity_type")))
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, entityType)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			changed := make(map[string][]int64, len(message.Summary.ChangedEntityIDs))
			for changedType, ids := range message.Summary.ChangedEntityIDs {
				changed[string(changedType)] = ids
			}
			c.SSEvent(message.EventType, blockEventPayload{
				Source:           realtimeSourceBackend,
				BlockNumber:      message.Summary.BlockNumber,
				BlockHash:        message.Summary.BlockHash,
				TotalChanges:     message.Summary.TotalChanges,
				ChangedEntityIDs: changed,
				Timestamp:        message.Timestamp.Format(time.RFC3339),
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatPayload{
				Source:    realtimeSourceBackend,
				Timestamp: tick.UTC().Format(time.RFC3339),
			})
			return true
		}
	})
}
