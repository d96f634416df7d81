package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Feed events pushed to door staff.
const (
	EventCheckIn     = "check_in"
	EventViewerCount = "viewer_count"
)

// Hub maintains event_id -> set of connections and broadcasts check-in messages.
// Uses Redis pub/sub for horizontal scaling so a scan on one replica reaches screens on all of them.
type Hub struct {
	// eventID -> map[clientID]*Client
	rooms map[int64]map[string]*Client
	mu    sync.RWMutex
	// subs holds the Redis subscription cancel func per event. Guarded by subMu, never by mu,
	// so a slow subscribe does not stall broadcasts.
	subs     map[int64]func()
	subMu    sync.Mutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishEventMessage(eventID int64, event string, payload []byte) error
}

// RedisSubscriber subscribes to event channels and invokes handler for incoming messages.
type RedisSubscriber interface {
	SubscribeEvent(eventID int64, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. Both Redis arguments may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[int64]map[string]*Client),
		subs:     make(map[int64]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to an event room. Starts Redis subscription for this event if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	first := h.rooms[c.EventID] == nil
	if first {
		h.rooms[c.EventID] = make(map[string]*Client)
	}
	h.rooms[c.EventID][c.ID] = c
	h.mu.Unlock()
	if first {
		h.syncSubscription(c.EventID)
	}
	h.logger.Debug("client joined feed", zap.String("client_id", c.ID), zap.Int64("event_id", c.EventID))
}

// Unregister removes a client from an event room. Cancels Redis subscription when last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	last := false
	if m, ok := h.rooms[c.EventID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, c.EventID)
			last = true
		}
	}
	h.mu.Unlock()
	if last {
		h.syncSubscription(c.EventID)
	}
	h.logger.Debug("client left feed", zap.String("client_id", c.ID), zap.Int64("event_id", c.EventID))
}

// syncSubscription subscribes or unsubscribes an event so the Redis side matches whether the
// room has viewers. Calls are serialized by subMu; joins and leaves racing a slow subscribe
// settle on the room state observed by the last call.
func (h *Hub) syncSubscription(eventID int64) {
	if h.redisSub == nil {
		return
	}
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.RLock()
	watched := len(h.rooms[eventID]) > 0
	h.mu.RUnlock()
	cancel, subscribed := h.subs[eventID]

	switch {
	case watched && !subscribed:
		cancel, err := h.redisSub.SubscribeEvent(eventID, func(event string, payload []byte) {
			h.Broadcast(eventID, event, json.RawMessage(payload))
		})
		if err != nil {
			h.logger.Warn("redis subscribe failed, feed is local only", zap.Error(err), zap.Int64("event_id", eventID))
			return
		}
		h.subs[eventID] = cancel
	case !watched && subscribed:
		cancel()
		delete(h.subs, eventID)
	}
}

// Broadcast sends a message to all clients watching an event (local only).
func (h *Hub) Broadcast(eventID int64, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[eventID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Publish delivers a message to every instance's clients. With Redis the subscriber callback performs
// the broadcast once for all instances (including this one), so local clients are not served twice.
func (h *Hub) Publish(eventID int64, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		if err := h.redis.PublishEventMessage(eventID, event, data); err == nil {
			return
		}
		h.logger.Warn("redis publish failed, broadcasting locally", zap.Error(err), zap.Int64("event_id", eventID))
	}
	h.Broadcast(eventID, event, json.RawMessage(data))
}

// ViewerCount returns the number of connected clients for an event on this instance.
func (h *Hub) ViewerCount(eventID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[eventID])
}
