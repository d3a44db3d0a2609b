package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic identifies one fan-out channel: a booth's public waiting room,
// a booth's management console, an individual's private channel, a call
// room, or a role-wide broadcast.
type Topic string

// BoothWaitingTopic is the booth's public waiting-room channel.
func BoothWaitingTopic(boothID uuid.UUID) Topic {
	return Topic("booth:" + boothID.String() + ":waiting")
}

// BoothManagementTopic is the booth's management console channel.
func BoothManagementTopic(boothID uuid.UUID) Topic {
	return Topic("booth:" + boothID.String() + ":management")
}

// UserTopic is an individual user's private channel.
func UserTopic(userID uuid.UUID) Topic {
	return Topic("user:" + userID.String())
}

// CallRoomTopic is the per-call-session room channel.
func CallRoomTopic(callSessionID uuid.UUID) Topic {
	return Topic("call:" + callSessionID.String())
}

// RoleTopic is a role-wide broadcast channel (interpreter requests).
func RoleTopic(role string) Topic {
	return Topic("role:" + role)
}

// Event names published by the broadcaster.
const (
	EventQueueUpdated            = "queue-updated"
	EventNewQueueMessage         = "new-queue-message"
	EventNewMessageFromRecruiter = "new-message-from-recruiter"
	EventQueueInvitedToMeeting   = "queue-invited-to-meeting"
	EventQueueServingUpdated     = "queue-serving-updated"
	EventInterpreterRequest      = "interpreter-request"
	EventInterpreterAccepted     = "interpreter-accepted"
	EventInterpreterJoined       = "interpreter-joined"
	EventCallStarted             = "call-started"
	EventCallEnded               = "call-ended"
	EventMeetingMessage          = "meeting-message"
)

// Actions carried in queue-updated payloads.
const (
	ActionJoined          = "joined"
	ActionLeft            = "left"
	ActionLeftWithMessage = "left_with_message"
	ActionRemoved         = "removed"
)

// Broadcaster fans events out to the subscribers of a topic. Delivery
// is at-most-once and best-effort: no subscriber means the event is
// dropped, and failures never propagate to the caller. The durable
// store stays the source of truth; clients reconcile via the status
// endpoint after reconnecting.
type Broadcaster interface {
	Publish(topic Topic, event string, payload interface{})
}

// NopBroadcaster discards every event. Used in tests and the worker
// daemon when no realtime layer is attached.
type NopBroadcaster struct{}

// Publish discards the event.
func (NopBroadcaster) Publish(Topic, string, interface{}) {}

// PublishOnlyBroadcaster pushes events into Redis without holding any
// client connections. Used by processes that produce events but serve
// no WebSockets, like the reaper daemon.
type PublishOnlyBroadcaster struct {
	pub    RedisPublisher
	logger *zap.Logger
}

// NewPublishOnlyBroadcaster creates a broadcaster that only publishes
// to the Redis bridge.
func NewPublishOnlyBroadcaster(pub RedisPublisher, logger *zap.Logger) *PublishOnlyBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishOnlyBroadcaster{pub: pub, logger: logger}
}

// Publish marshals and publishes the event, dropping it on failure.
func (b *PublishOnlyBroadcaster) Publish(topic Topic, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("drop event: marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := b.pub.PublishTopicEvent(topic, event, data); err != nil {
		b.logger.Warn("drop event: publish failed", zap.String("event", event), zap.Error(err))
	}
}
