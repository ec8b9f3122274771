package domain

import (
	"log/slog"
	"strings"
	"time"
)

// Zone classifies where a prediction places the vessel event.
type Zone string

const (
	ZoneBerth             Zone = "berth"
	ZonePilotBoardingArea Zone = "pilot_boarding_area"
	ZoneAnchorage         Zone = "anchorage"
	ZonePortArea          Zone = "port_area"
	ZoneVTSArea           Zone = "vts_area"
)

// Prediction is the provider-agnostic view of one prediction object, built
// at the intake boundary from each provider's wire format.
type Prediction struct {
	// Source tags the provider family the prediction came from.
	Source Source
	// PredictionType is the event kind the provider claims to predict.
	PredictionType EventType
	Ship           Ship
	// Locode is the predicted destination.
	Locode string
	Zone   Zone
	// EventTime is the predicted occurrence time; nil when the provider
	// failed to produce one.
	EventTime  *time.Time
	RecordTime *time.Time

	ConfidenceLower *time.Time
	ConfidenceUpper *time.Time

	// SourcedFrom is the provider's upstream attribution, used to detect
	// predictions derived from this platform's own published feed.
	SourcedFrom string
}

// KnownDestination is the vessel's previously known destination and its
// planned arrival time, as recorded in the canonical store.
type KnownDestination struct {
	Locode  string
	Arrival time.Time
}

// RejectReason is the closed set of normalization reject codes, used as a
// log field and metrics label.
type RejectReason string

const (
	RejectNone                  RejectReason = ""
	RejectWrongPredictionType   RejectReason = "wrong_prediction_type"
	RejectMissingEventTime      RejectReason = "missing_event_time"
	RejectOutsideJurisdiction   RejectReason = "outside_jurisdiction"
	RejectSelfReferential       RejectReason = "self_referential"
	RejectDestinationMismatch   RejectReason = "destination_mismatch"
	RejectPilotBoardingUnlisted RejectReason = "pilot_boarding_unlisted"
)

// RejectReasons lists every reject code, for metrics pre-registration.
func RejectReasons() []RejectReason {
	return []RejectReason{
		RejectWrongPredictionType,
		RejectMissingEventTime,
		RejectOutsideJurisdiction,
		RejectSelfReferential,
		RejectDestinationMismatch,
		RejectPilotBoardingUnlisted,
	}
}

// NormalizerRules is the immutable configuration of the prediction
// normalizer, built once at startup.
type NormalizerRules struct {
	// Jurisdiction is the locode country prefix the platform serves.
	Jurisdiction string
	// ShortHorizon is the time-to-arrival under which a changed
	// destination is trusted over the previously known one.
	ShortHorizon time.Duration
	// DestinationOverrides lists previously known destinations that are
	// kept even when the provider predicts a different one.
	DestinationOverrides map[string]bool
	// PilotBoardingEmit lists the destinations for which a
	// pilot-boarding-derived event may be published.
	PilotBoardingEmit map[string]bool
	// DualPublish lists the destinations whose arrival predictions also
	// synthesize an ETB twin.
	DualPublish map[string]bool
	// OwnFeedID marks predictions sourced from the platform's own
	// published feed, rejected to prevent feedback loops.
	OwnFeedID string
}

// DefaultShortHorizon is the destination-change trust horizon.
const DefaultShortHorizon = 24 * time.Hour

// Normalizer converts provider predictions into canonical events, applying
// provider business rules. It performs no I/O.
type Normalizer struct {
	rules  NormalizerRules
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer with the given rules.
func NewNormalizer(rules NormalizerRules, logger *slog.Logger) *Normalizer {
	if rules.ShortHorizon == 0 {
		rules.ShortHorizon = DefaultShortHorizon
	}
	return &Normalizer{rules: rules, logger: logger}
}

// Normalize converts one prediction into zero, one or two canonical events.
// expected is the event kind the caller asked the provider for; predictions
// of any other kind are rejected. known is the vessel's previously known
// destination, nil when none is recorded. A non-empty RejectReason means
// the prediction was dropped; rejects are never errors.
func (n *Normalizer) Normalize(expected EventType, p Prediction, known *KnownDestination) ([]CanonicalEvent, RejectReason) {
	if p.PredictionType != expected {
		return n.reject(p, RejectWrongPredictionType)
	}
	if p.EventTime == nil {
		return n.reject(p, RejectMissingEventTime)
	}
	if n.rules.OwnFeedID != "" && p.SourcedFrom == n.rules.OwnFeedID {
		return n.reject(p, RejectSelfReferential)
	}

	locode, reason := n.resolveDestination(p, known)
	if reason != RejectNone {
		return n.reject(p, reason)
	}
	if !strings.HasPrefix(locode, n.rules.Jurisdiction) {
		return n.reject(p, RejectOutsideJurisdiction)
	}

	kind := expected
	if p.Zone == ZonePilotBoardingArea && expected == ETA {
		// A prediction into the pilot boarding area is a pilot boarding
		// time, not a port arrival, and is only published for listed
		// destinations.
		if !n.rules.PilotBoardingEmit[locode] {
			return n.reject(p, RejectPilotBoardingUnlisted)
		}
		kind = ETP
	}

	recordTime := clock.Now()
	if p.RecordTime != nil {
		recordTime = *p.RecordTime
	} else {
		n.logger.Warn("prediction missing record time, substituting wall clock",
			"ship", p.Ship.String(),
			"locode", locode,
			"source", p.Source,
		)
	}

	event := CanonicalEvent{
		EventType:                kind,
		EventTime:                *p.EventTime,
		RecordTime:               recordTime,
		EventTimeConfidenceLower: p.ConfidenceLower,
		EventTimeConfidenceUpper: p.ConfidenceUpper,
		Source:                   p.Source,
		Ship:                     p.Ship,
		Location:                 Location{Port: locode},
	}

	events := []CanonicalEvent{event}
	if kind == ETA && n.rules.DualPublish[locode] {
		twin := event
		twin.EventType = ETB
		events = append(events, twin)
	}
	return events, RejectNone
}

// resolveDestination applies the destination-mismatch policy: a changed
// destination is trusted inside the short horizon, replaced by the known
// destination when that one is on the override list, and rejected otherwise.
func (n *Normalizer) resolveDestination(p Prediction, known *KnownDestination) (string, RejectReason) {
	if known == nil || known.Locode == "" || known.Locode == p.Locode {
		return p.Locode, RejectNone
	}
	if known.Arrival.Sub(clock.Now()) < n.rules.ShortHorizon {
		return p.Locode, RejectNone
	}
	if n.rules.DestinationOverrides[known.Locode] {
		return known.Locode, RejectNone
	}
	return "", RejectDestinationMismatch
}

func (n *Normalizer) reject(p Prediction, reason RejectReason) ([]CanonicalEvent, RejectReason) {
	n.logger.Debug("prediction rejected",
		"reason", string(reason),
		"ship", p.Ship.String(),
		"locode", p.Locode,
		"source", p.Source,
	)
	return nil, reason
}
