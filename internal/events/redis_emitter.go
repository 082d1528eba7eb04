package events

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	storeredis "github.com/delinoio/delidev/internal/store/redis"
)

// RedisEmitter publishes each event as JSON on its task's Redis channel,
// fanning out to every process subscribed there (primarily the websocket
// hub relaying to connected clients).
type RedisEmitter struct {
	pubsub *storeredis.PubSub
}

func NewRedisEmitter(pubsub *storeredis.PubSub) *RedisEmitter {
	return &RedisEmitter{pubsub: pubsub}
}

func (e *RedisEmitter) Emit(ctx context.Context, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("task_id", evt.TaskID).Msg("events.RedisEmitter: failed to marshal event")
		return
	}

	channel := storeredis.TaskChannel(evt.TaskID)
	if err := e.pubsub.Publish(ctx, channel, payload); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("events.RedisEmitter: failed to publish event")
	}
}

var _ Emitter = (*RedisEmitter)(nil)
