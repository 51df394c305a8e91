// Package events delivers chat lifecycle events to logs and to other
// processes.
package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rtchat/internal/chat"
)

// Channel is the Redis pub/sub channel events are published on.
const Channel = "rtchat:events"

// LogSink writes every event to a logger at debug level.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Emit(_ context.Context, ev chat.Event) {
	s.Logger.Debug().
		Str("event_id", ev.ID).
		Str("kind", string(ev.Kind)).
		Str("phase", string(ev.Phase)).
		Uint64("message_id", ev.MessageID).
		Uint64("author_id", ev.AuthorID).
		Msg("chat event")
}

// RedisSink publishes committed events so other servers can drop their
// view of the chat and connected clients can refresh.
type RedisSink struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisSink creates a sink publishing on Channel.
func NewRedisSink(client *redis.Client, logger zerolog.Logger) *RedisSink {
	return &RedisSink{client: client, logger: logger}
}

// Emit publishes commit events. Begin events stay in process.
func (s *RedisSink) Emit(ctx context.Context, ev chat.Event) {
	if ev.Phase != chat.PhaseCommit {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("encode chat event")
		return
	}
	if err := s.client.Publish(ctx, Channel, payload).Err(); err != nil {
		s.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("publish chat event")
	}
}

// Subscribe calls fn for every event published on Channel until ctx is
// done.
func Subscribe(ctx context.Context, client *redis.Client, logger zerolog.Logger, fn func(chat.Event)) error {
	sub := client.Subscribe(ctx, Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev chat.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn().Err(err).Msg("decode chat event")
				continue
			}
			fn(ev)
		}
	}
}

// Multi fans an event out to several sinks in order.
type Multi []chat.EventSink

func (m Multi) Emit(ctx context.Context, ev chat.Event) {
	for _, sink := range m {
		sink.Emit(ctx, ev)
	}
}
