package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventType classifies a port-call timestamp.
type EventType string

const (
	// ETA and ETD are predicted arrival/departure times.
	ETA EventType = "ETA"
	ETD EventType = "ETD"
	// ATA and ATD are observed arrival/departure times.
	ATA EventType = "ATA"
	ATD EventType = "ATD"
	// ETB is the predicted time of arrival at berth, ETP the predicted
	// time of pilot boarding.
	ETB EventType = "ETB"
	ETP EventType = "ETP"
)

// IsPrediction reports whether the event type describes an expected future
// time rather than an observation.
func (t EventType) IsPrediction() bool {
	switch t {
	case ETA, ETD, ETB, ETP:
		return true
	}
	return false
}

// IsActual reports whether the event type describes an observed time.
func (t EventType) IsActual() bool {
	return t == ATA || t == ATD
}

// ParseEventType validates a wire-format event type string.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case ETA, ETD, ATA, ATD, ETB, ETP:
		return EventType(s), nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Source identifies the provider that produced a timestamp. The set is
// closed: reconciliation depends on a total priority order over sources,
// so unknown provider strings are rejected at the boundary.
type Source string

const (
	// SourceAISPrediction is the provisional machine-learned ETA/ETD
	// prediction feed. Lowest priority.
	SourceAISPrediction Source = "ais-prediction"
	// SourceAISConfirmed is the confirmed prediction from the same
	// provider family as SourceAISPrediction.
	SourceAISConfirmed Source = "ais-confirmed"
	// SourceVTSSchedule is the vessel-traffic-service schedule system.
	SourceVTSSchedule Source = "vts-schedule"
	// SourceVTSControl is the live traffic-control system. Its records
	// are subject to staleness and divergence filtering.
	SourceVTSControl Source = "vts-control"
	// SourcePilotage is the pilotage order system; the only source that
	// reports a point of origin.
	SourcePilotage Source = "pilotage"
	// SourcePortRegistry is the national port-call registry, the
	// registry of record. Highest priority.
	SourcePortRegistry Source = "port-registry"
)

// ParseSource validates a wire-format source string.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceAISPrediction, SourceAISConfirmed, SourceVTSSchedule,
		SourceVTSControl, SourcePilotage, SourcePortRegistry:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Family groups sources that share an underlying provider. The provisional
// and confirmed AIS predictions come from the same provider family; a
// provisional record must never coexist with a confirmed sibling.
func (s Source) Family() string {
	switch s {
	case SourceAISPrediction, SourceAISConfirmed:
		return "ais"
	default:
		return string(s)
	}
}

// IsProvisional reports whether the source carries provisional confidence.
func (s Source) IsProvisional() bool { return s == SourceAISPrediction }

// IsControl reports whether the source is the live traffic-control system.
func (s Source) IsControl() bool { return s == SourceVTSControl }

// IsRegistry reports whether the source is the registry of record.
func (s Source) IsRegistry() bool { return s == SourcePortRegistry }

// PriorityTable assigns each source its rank in the total order; a larger
// value wins reconciliation. Built once at startup and treated as immutable.
type PriorityTable map[Source]int

// DefaultPriorities returns the product's fixed source order: registry of
// record highest, provisional AIS prediction lowest.
func DefaultPriorities() PriorityTable {
	return PriorityTable{
		SourceAISPrediction: 1,
		SourceAISConfirmed:  2,
		SourceVTSSchedule:   3,
		SourceVTSControl:    4,
		SourcePilotage:      5,
		SourcePortRegistry:  6,
	}
}

// Priority returns the rank for s, or 0 for a source missing from the table
// so that unknown sources always lose.
func (p PriorityTable) Priority(s Source) int { return p[s] }

// Ship identifies a vessel. At least one of MMSI or IMO must be set.
type Ship struct {
	MMSI *int `json:"mmsi,omitempty"`
	IMO  *int `json:"imo,omitempty"`
}

// Empty reports whether the ship carries no identifier at all.
func (s Ship) Empty() bool { return s.MMSI == nil && s.IMO == nil }

func (s Ship) String() string {
	switch {
	case s.MMSI != nil && s.IMO != nil:
		return fmt.Sprintf("mmsi=%d imo=%d", *s.MMSI, *s.IMO)
	case s.MMSI != nil:
		return fmt.Sprintf("mmsi=%d", *s.MMSI)
	case s.IMO != nil:
		return fmt.Sprintf("imo=%d", *s.IMO)
	}
	return "unidentified"
}

// Location places an event at a port. FromLocode is populated only by
// pilotage records, which report the point of origin.
type Location struct {
	Port       string `json:"port"`
	PortArea   string `json:"portArea,omitempty"`
	FromLocode string `json:"from,omitempty"`
}

// CanonicalEvent is the unit of record: one provider statement about one
// port-call event, normalized into the provider-agnostic shape the
// reconciliation engine operates on. Events are never updated in place;
// a newer statement for the same key replaces the old rows entirely.
type CanonicalEvent struct {
	EventType EventType `json:"eventType"`
	// EventTime is when the event is predicted or observed to occur.
	EventTime time.Time `json:"eventTime"`
	// RecordTime is when the source produced this record.
	RecordTime time.Time `json:"recordTime"`

	// Optional bounds on the provider's uncertainty about EventTime.
	EventTimeConfidenceLower *time.Time `json:"eventTimeConfidenceLower,omitempty"`
	EventTimeConfidenceUpper *time.Time `json:"eventTimeConfidenceUpper,omitempty"`

	Source   Source   `json:"source"`
	Ship     Ship     `json:"ship"`
	Location Location `json:"location"`

	// PortcallID ties the event to a durable port-call identity when one
	// could be resolved.
	PortcallID *int64 `json:"portcallId,omitempty"`
}

// Validate checks the mandatory identity keys of a canonical event.
func (e CanonicalEvent) Validate() error {
	if _, err := ParseEventType(string(e.EventType)); err != nil {
		return err
	}
	if _, err := ParseSource(string(e.Source)); err != nil {
		return err
	}
	if e.EventTime.IsZero() {
		return errors.New("event time is required")
	}
	if e.RecordTime.IsZero() {
		return errors.New("record time is required")
	}
	if e.Ship.Empty() {
		return errors.New("ship requires an MMSI or IMO")
	}
	if e.Location.Port == "" {
		return errors.New("port locode is required")
	}
	return nil
}

// TimelineKey groups events that belong to the same physical port call.
// Events with a resolved portcall id share its key; unresolved events fall
// back to the ship/port pair.
func (e CanonicalEvent) TimelineKey() string {
	if e.PortcallID != nil {
		return fmt.Sprintf("portcall:%d", *e.PortcallID)
	}
	return fmt.Sprintf("unresolved:%s:%s", e.Location.Port, e.Ship)
}

// UpsertResult reports the outcome of persisting one canonical event.
type UpsertResult struct {
	Event CanonicalEvent `json:"event"`
	// LocodeChanged is the number of registry rows retired because the
	// port call moved to a different destination locode.
	LocodeChanged int64 `json:"locodeChanged,omitempty"`
}

// IntakeMessage is an unprocessed message from the intake topic.
type IntakeMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Intake message_type header values.
const (
	MessageTypeTimestamps = "timestamps"
	MessageTypeTrigger    = "trigger"
)

// TimestampBatch is the payload of a "timestamps" intake message: already
// normalized events to persist.
type TimestampBatch struct {
	Timestamps []CanonicalEvent `json:"timestamps"`
}

// Trigger is the payload of a "trigger" intake message: a request to run
// prediction normalization for the named ships.
type Trigger struct {
	Ships []Ship `json:"ships"`
	// Locode optionally narrows the run to a single destination.
	Locode string `json:"locode,omitempty"`
}
