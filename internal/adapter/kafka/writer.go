package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/tmfg/portcall-timestamp-service/internal/config"
	"github.com/tmfg/portcall-timestamp-service/internal/domain"
)

// Writer publishes reconciled timelines to the sink topic.
// It implements pipeline.TimelinePublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// timelineMessage is the sink wire format: one reconciled port-call timeline.
type timelineMessage struct {
	PortcallID int64                   `json:"portcallId"`
	Events     []domain.CanonicalEvent `json:"events"`
	ProducedAt time.Time               `json:"producedAt"`
}

// PublishTimeline serializes and publishes one reconciled timeline.
func (w *Writer) PublishTimeline(ctx context.Context, portcallID int64, events []domain.CanonicalEvent) error {
	msg, err := buildTimelineMessage(portcallID, events, time.Now().UTC())
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

// buildTimelineMessage serializes one reconciled timeline into its sink
// message: keyed by portcall so all revisions land on one partition.
func buildTimelineMessage(portcallID int64, events []domain.CanonicalEvent, producedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(timelineMessage{
		PortcallID: portcallID,
		Events:     events,
		ProducedAt: producedAt,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize timeline: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(fmt.Sprintf("portcall-%d", portcallID)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_count", Value: []byte(fmt.Sprint(len(events)))},
		},
	}, nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}
