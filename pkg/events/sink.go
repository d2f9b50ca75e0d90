package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// TopicModel is the topic model-change events are published on.
const TopicModel = "velocity.model"

// EventSink receives committed model changes.
type EventSink interface {
	PublishEvent(event Event) error
}

// PublishToSinks delivers event to every sink. Sink failures are logged and
// never interrupt the caller.
func PublishToSinks(sinks []EventSink, event Event) {
	for _, sink := range sinks {
		if err := sink.PublishEvent(event); err != nil {
			log.Debug().Err(err).Str("event_type", string(event.Type())).Msg("Event sink failed")
		}
	}
}

// WatermillSink publishes events as JSON messages on a watermill publisher.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := w.publisher.Publish(w.topic, msg); err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event) error

func (f SinkFunc) PublishEvent(e Event) error { return f(e) }

var _ EventSink = (*WatermillSink)(nil)
