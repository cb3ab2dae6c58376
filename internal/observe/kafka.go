package observe

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"
)

// KafkaObserver consumes observation envelopes published by external
// task-status collaborators and emits them into the bus. The message value is
// a JSON-encoded Observation; id, timestamp, and score are reassigned by the
// bus so remote producers cannot forge priority.
type KafkaObserver struct {
	brokers       string
	topic         string
	consumerGroup string
	emitter       Emitter
}

// NewKafkaObserver creates a consumer for the given topic.
func NewKafkaObserver(brokers, topic, consumerGroup string, emitter Emitter) *KafkaObserver {
	return &KafkaObserver{
		brokers:       brokers,
		topic:         topic,
		consumerGroup: consumerGroup,
		emitter:       emitter,
	}
}

// Start reads messages until the context is cancelled.
func (o *KafkaObserver) Start(ctx context.Context) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(o.brokers, ","),
		Topic:    o.topic,
		GroupID:  o.consumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	slog.Info("Kafka observer started", "topic", o.topic, "group", o.consumerGroup)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("Kafka observer read error", "topic", o.topic, "error", err)
			continue
		}

		var obs Observation
		if err := json.Unmarshal(msg.Value, &obs); err != nil {
			slog.Warn("Kafka observer bad envelope", "topic", o.topic, "error", err)
			continue
		}

		// Remote envelopes only carry source, event type, payload, and key.
		obs.ID = 0
		obs.PriorityScore = 0
		if obs.Source == "" {
			obs.Source = SourceTask
		}
		if obs.CorrelationKey == "" {
			obs.CorrelationKey = "kafka:" + string(msg.Key)
		}
		o.emitter.Emit(obs)
	}
}
