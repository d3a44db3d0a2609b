package realtime

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishTopicEventUsesPrefixedChannel(t *testing.T) {
	db, mock := redismock.NewClientMock()
	topic := BoothWaitingTopic(uuid.New())

	mock.CustomMatch(func(expected, actual []interface{}) error {
		if len(actual) < 2 {
			return fmt.Errorf("expected channel argument")
		}
		channel, _ := actual[1].(string)
		if channel != channelPrefix+string(topic) {
			return fmt.Errorf("unexpected channel %q", channel)
		}
		var body []byte
		switch v := actual[2].(type) {
		case []byte:
			body = v
		case string:
			body = []byte(v)
		default:
			return fmt.Errorf("unexpected payload type %T", actual[2])
		}
		var p redisPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return err
		}
		if p.Event != EventQueueUpdated {
			return fmt.Errorf("unexpected event %q", p.Event)
		}
		return nil
	}).ExpectPublish(channelPrefix+string(topic), "").SetVal(1)

	ps := NewRedisPubSub(db, zap.NewNop())
	err := ps.PublishTopicEvent(topic, EventQueueUpdated, []byte(`{"position":1}`))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishOnlyBroadcasterDropsOnFailure(t *testing.T) {
	pub := &fakePublisher{err: assert.AnError}
	bc := NewPublishOnlyBroadcaster(pub, zap.NewNop())

	// Must not panic or propagate; at-most-once means drop.
	bc.Publish(RoleTopic("interpreter"), EventInterpreterRequest, map[string]string{"language": "ASL"})
	assert.Empty(t, pub.published)

	pub.err = nil
	bc.Publish(RoleTopic("interpreter"), EventInterpreterRequest, map[string]string{"language": "ASL"})
	assert.Len(t, pub.published, 1)
}

func TestTopicBuilders(t *testing.T) {
	booth := uuid.New()
	user := uuid.New()
	call := uuid.New()

	assert.Equal(t, Topic("booth:"+booth.String()+":waiting"), BoothWaitingTopic(booth))
	assert.Equal(t, Topic("booth:"+booth.String()+":management"), BoothManagementTopic(booth))
	assert.Equal(t, Topic("user:"+user.String()), UserTopic(user))
	assert.Equal(t, Topic("call:"+call.String()), CallRoomTopic(call))
	assert.Equal(t, Topic("role:interpreter"), RoleTopic("interpreter"))
}
