// Package realtime fans out pipeline events to connected operator clients
// over websockets. Delivery is best-effort and at-most-once per client; a
// client disconnected at publish time misses the event and reconciles via
// the page's own queries on reconnect.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// TopicDispatch is the global room every operator client may join.
const TopicDispatch = "dispatch"

// ConversationTopic returns the per-conversation room name.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// Envelope is the wire frame delivered to subscribers.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Hub is the process-wide publish/subscribe broker. There is exactly one
// per process, created at startup and owned by the application context.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	logger *slog.Logger
}

// NewHub creates the broker.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: log.With(slog.String("service", "realtime")),
	}
}

// Publish delivers payload to every client currently joined to topic.
// Within one topic, publish order is preserved for connected subscribers;
// a client whose send buffer is full is dropped rather than blocking the
// pipeline.
func (h *Hub) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal event failed", slog.String("topic", topic), slog.Any("error", err))
		return
	}
	frame, err := json.Marshal(Envelope{Topic: topic, Payload: data, At: time.Now().UTC()})
	if err != nil {
		return
	}

	h.mu.RLock()
	var slow []*Client
	for client := range h.rooms[topic] {
		select {
		case client.send <- frame:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("dropping slow realtime client", slog.String("topic", topic))
		h.Remove(client)
		client.close()
	}
}

// Join subscribes a client to topic.
func (h *Hub) Join(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[topic]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[topic] = room
	}
	room[client] = struct{}{}
}

// Leave unsubscribes a client from topic.
func (h *Hub) Leave(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoom(client, topic)
}

// Remove unsubscribes a client from every room.
func (h *Hub) Remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range h.rooms {
		h.removeFromRoom(client, topic)
	}
}

func (h *Hub) removeFromRoom(client *Client, topic string) {
	room, ok := h.rooms[topic]
	if !ok {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, topic)
	}
}

// RoomSize reports the current subscriber count for a topic.
func (h *Hub) RoomSize(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}
