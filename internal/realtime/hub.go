package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/talenthall/backend/pkg/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// RedisPublisher publishes topic events for cross-instance broadcast.
type RedisPublisher interface {
	PublishTopicEvent(topic Topic, event string, payload []byte) error
}

// RedisSubscriber subscribes to a topic channel and invokes the handler
// for incoming events.
type RedisSubscriber interface {
	SubscribeTopic(topic Topic, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains topic -> set of connections and fans events out.
// Cross-instance delivery goes through Redis pub/sub: events are
// published to Redis and every instance (including the publisher)
// delivers them to its local subscribers exactly once.
type Hub struct {
	topics map[Topic]map[string]*Client
	subs   map[Topic]func() // cancel Redis subscription per topic
	mu     sync.RWMutex
	logger *zap.Logger
	pub    RedisPublisher
	sub    RedisSubscriber
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, pub RedisPublisher, sub RedisSubscriber) *Hub {
	return &Hub{
		topics: make(map[Topic]map[string]*Client),
		subs:   make(map[Topic]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// Register adds a client to every topic it subscribed. Starts a Redis
// subscription per topic when the first local client arrives.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	for _, topic := range c.Topics {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[string]*Client)
			if h.sub != nil {
				t := topic
				cancel, err := h.sub.SubscribeTopic(t, func(event string, payload []byte) {
					h.deliverLocal(t, event, json.RawMessage(payload))
				})
				if err == nil {
					h.subs[t] = cancel
				}
			}
		}
		h.topics[topic][c.ID] = c
	}
	h.mu.Unlock()
	metrics.ClientConnected(1)
	h.logger.Debug("client registered", zap.String("client_id", c.ID), zap.Int("topics", len(c.Topics)))
}

// Unregister removes a client from all its topics. Cancels the Redis
// subscription when the last local client leaves a topic.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	for _, topic := range c.Topics {
		if m, ok := h.topics[topic]; ok {
			delete(m, c.ID)
			if len(m) == 0 {
				delete(h.topics, topic)
				if cancel, ok := h.subs[topic]; ok {
					cancel()
					delete(h.subs, topic)
				}
			}
		}
	}
	h.mu.Unlock()
	metrics.ClientConnected(-1)
	h.logger.Debug("client unregistered", zap.String("client_id", c.ID))
}

// Publish implements Broadcaster. With Redis attached the event goes
// through pub/sub so each instance delivers once; without Redis it is
// delivered locally. Failures are swallowed: the mutation behind the
// event has already committed and must not be rolled back or failed.
func (h *Hub) Publish(topic Topic, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("broadcast payload marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	metrics.TrackBroadcast(event)
	if h.pub != nil {
		if err := h.pub.PublishTopicEvent(topic, event, data); err != nil {
			h.logger.Warn("redis publish failed, delivering locally",
				zap.String("topic", string(topic)), zap.String("event", event), zap.Error(err))
			h.deliverLocal(topic, event, json.RawMessage(data))
		}
		return
	}
	h.deliverLocal(topic, event, json.RawMessage(data))
}

// deliverLocal sends an event to local subscribers of a topic. Clients
// with a full send buffer are skipped (at-most-once).
func (h *Hub) deliverLocal(topic Topic, event string, data json.RawMessage) {
	msg := WSMessage{Topic: string(topic), Event: event, Data: data}

	h.mu.RLock()
	clients := h.topics[topic]
	h.mu.RUnlock()

	if clients == nil {
		return
	}
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// SubscriberCount returns the number of local clients on a topic.
func (h *Hub) SubscriberCount(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
