// Package ws relays execution events to connected websocket clients,
// grounded on the teacher's Hub (subscribe-per-channel over a pub/sub
// backend, one write loop per connection).
package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/delinoio/delidev/internal/events"
	storeredis "github.com/delinoio/delidev/internal/store/redis"
)

// Subscriber abstracts over the two event transports the engine can run
// with: Redis pub/sub in multi-process deployments, or the in-process
// MemoryEmitter for a single-binary local run. Both yield the same
// JSON-encoded events.Event payload per message.
type Subscriber interface {
	SubscribeTask(ctx context.Context, taskID string) (<-chan []byte, func(), error)
}

// RedisSubscriber adapts store/redis's channel-keyed pub/sub to Subscriber.
type RedisSubscriber struct {
	pubsub *storeredis.PubSub
}

func NewRedisSubscriber(pubsub *storeredis.PubSub) *RedisSubscriber {
	return &RedisSubscriber{pubsub: pubsub}
}

func (s *RedisSubscriber) SubscribeTask(ctx context.Context, taskID string) (<-chan []byte, func(), error) {
	return s.pubsub.Subscribe(ctx, storeredis.TaskChannel(taskID))
}

// MemorySubscriber adapts the in-process MemoryEmitter, filtering its
// unified event stream down to one task id and re-encoding each match as
// JSON so callers see the same wire shape as the Redis path.
type MemorySubscriber struct {
	bus *events.MemoryEmitter
}

func NewMemorySubscriber(bus *events.MemoryEmitter) *MemorySubscriber {
	return &MemorySubscriber{bus: bus}
}

func (s *MemorySubscriber) SubscribeTask(ctx context.Context, taskID string) (<-chan []byte, func(), error) {
	src := s.bus.Subscribe(256)
	out := make(chan []byte, 256)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-src:
				if !ok {
					return
				}
				if evt.TaskID != taskID {
					continue
				}
				payload, err := json.Marshal(evt)
				if err != nil {
					log.Error().Err(err).Msg("ws.MemorySubscriber: failed to marshal event")
					continue
				}
				select {
				case out <- payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, func() {}, nil
}

// Hub serves the per-task event relay endpoint.
type Hub struct {
	subscriber Subscriber
}

func NewHub(subscriber Subscriber) *Hub {
	return &Hub{subscriber: subscriber}
}

// ServeTask streams every event emitted about one task to the connected
// client, one JSON-encoded event per text frame, until the client
// disconnects or the context driving the request is cancelled.
func (h *Hub) ServeTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		http.Error(w, "missing task id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws: accept failed")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	messages, cleanup, err := h.subscriber.SubscribeTask(ctx, taskID)
	if err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("ws: subscribe failed")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, ok := <-messages:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("ws: write failed")
				return
			}
		}
	}
}
