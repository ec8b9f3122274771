package kafka

import (
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmfg/portcall-timestamp-service/internal/domain"
)

func TestToDomain(t *testing.T) {
	received := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	msg := kafkago.Message{
		Topic:     "portcall-timestamps-intake",
		Partition: 3,
		Offset:    42,
		Key:       []byte("ship-230123456"),
		Value:     []byte(`{"timestamps":[]}`),
		Time:      received,
		Headers: []kafkago.Header{
			{Key: "message_type", Value: []byte("timestamps")},
			{Key: "producer", Value: []byte("vts-schedule")},
		},
	}

	r := &Reader{}
	got := r.toDomain(msg)

	assert.Equal(t, "portcall-timestamps-intake", got.Topic)
	assert.Equal(t, 3, got.Partition)
	assert.Equal(t, int64(42), got.Offset)
	assert.Equal(t, []byte("ship-230123456"), got.Key)
	assert.Equal(t, []byte(`{"timestamps":[]}`), got.Value)
	assert.Equal(t, received, got.Timestamp)
	assert.Equal(t, map[string]string{
		"message_type": "timestamps",
		"producer":     "vts-schedule",
	}, got.Headers)
	assert.NotNil(t, got.Commit)
}

func TestBuildTimelineMessage(t *testing.T) {
	mmsi := 230123456
	producedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	events := []domain.CanonicalEvent{
		{
			EventType:  domain.ETA,
			EventTime:  producedAt.Add(4 * time.Hour),
			RecordTime: producedAt,
			Source:     domain.SourcePortRegistry,
			Ship:       domain.Ship{MMSI: &mmsi},
			Location:   domain.Location{Port: "FIHKO"},
		},
		{
			EventType:  domain.ETD,
			EventTime:  producedAt.Add(20 * time.Hour),
			RecordTime: producedAt,
			Source:     domain.SourcePortRegistry,
			Ship:       domain.Ship{MMSI: &mmsi},
			Location:   domain.Location{Port: "FIHKO"},
		},
	}

	msg, err := buildTimelineMessage(77, events, producedAt)
	require.NoError(t, err)

	assert.Equal(t, []byte("portcall-77"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_count", msg.Headers[0].Key)
	assert.Equal(t, []byte("2"), msg.Headers[0].Value)

	var decoded timelineMessage
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, int64(77), decoded.PortcallID)
	assert.Equal(t, producedAt, decoded.ProducedAt)
	require.Len(t, decoded.Events, 2)
	assert.Equal(t, domain.ETA, decoded.Events[0].EventType)
	assert.Equal(t, "FIHKO", decoded.Events[0].Location.Port)
	assert.Equal(t, domain.ETD, decoded.Events[1].EventType)
}
