package domain

import (
	"sort"
	"time"
)

// ReconcilerRules is the immutable configuration of the reconciliation
// engine, built once at startup.
type ReconcilerRules struct {
	// Priorities is the total order over sources.
	Priorities PriorityTable
	// ControlStaleness is the maximum age of a VTS control record before
	// it is discarded outright.
	ControlStaleness time.Duration
	// ControlDivergence is the maximum disagreement between a VTS control
	// event time and a same-kind AIS prediction before the control record
	// is treated as operator error.
	ControlDivergence time.Duration
}

// DefaultReconcilerRules returns the product defaults: 60 minute staleness,
// 30 minute divergence, the fixed source order.
func DefaultReconcilerRules() ReconcilerRules {
	return ReconcilerRules{
		Priorities:        DefaultPriorities(),
		ControlStaleness:  60 * time.Minute,
		ControlDivergence: 30 * time.Minute,
	}
}

// Reconciler derives the best-known timeline for one port call from the
// full set of provider statements about it. Reconcile is deterministic and
// side-effect free: the same input set always yields the same output, in
// any input order.
type Reconciler struct {
	rules ReconcilerRules
}

// NewReconciler creates a Reconciler with the given rules.
func NewReconciler(rules ReconcilerRules) *Reconciler {
	if rules.Priorities == nil {
		rules.Priorities = DefaultPriorities()
	}
	return &Reconciler{rules: rules}
}

// Reconcile reduces the events of one port call to at most one visible
// event per kind, sorted ascending by event time.
func (r *Reconciler) Reconcile(events []CanonicalEvent) []CanonicalEvent {
	survivors := r.dropProvisionalWithConfirmed(events)
	survivors = r.dropStaleControl(survivors)
	survivors = r.dropDivergentControl(survivors)

	byType := make(map[EventType][]CanonicalEvent)
	for _, e := range survivors {
		byType[e.EventType] = append(byType[e.EventType], e)
	}

	out := make([]CanonicalEvent, 0, len(byType))
	for _, group := range byType {
		out = append(out, r.pickRepresentative(group))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventTime.Equal(out[j].EventTime) {
			return out[i].EventTime.Before(out[j].EventTime)
		}
		if out[i].EventType != out[j].EventType {
			return out[i].EventType < out[j].EventType
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// dropProvisionalWithConfirmed removes provisional records whose provider
// family also produced a confirmed record for this port call, regardless of
// event kind. A provisional signal must never coexist with its own
// confirmed counterpart.
func (r *Reconciler) dropProvisionalWithConfirmed(events []CanonicalEvent) []CanonicalEvent {
	confirmed := make(map[string]bool)
	for _, e := range events {
		if !e.Source.IsProvisional() {
			confirmed[e.Source.Family()] = true
		}
	}

	out := events[:0:0]
	for _, e := range events {
		if e.Source.IsProvisional() && confirmed[e.Source.Family()] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// dropStaleControl removes control-system records whose record time is
// older than the staleness threshold. A forgotten control-room entry must
// not win over fresher provider data.
func (r *Reconciler) dropStaleControl(events []CanonicalEvent) []CanonicalEvent {
	now := clock.Now()
	out := events[:0:0]
	for _, e := range events {
		if e.Source.IsControl() && now.Sub(e.RecordTime) > r.rules.ControlStaleness {
			continue
		}
		out = append(out, e)
	}
	return out
}

// dropDivergentControl removes control-system records that disagree with a
// same-kind AIS prediction by more than the divergence threshold. Large
// disagreement is treated as control-source error, not a legitimate update.
func (r *Reconciler) dropDivergentControl(events []CanonicalEvent) []CanonicalEvent {
	out := events[:0:0]
	for _, e := range events {
		if e.Source.IsControl() && r.divergesFromPrediction(e, events) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (r *Reconciler) divergesFromPrediction(control CanonicalEvent, events []CanonicalEvent) bool {
	for _, e := range events {
		if e.Source.Family() != "ais" || e.EventType != control.EventType {
			continue
		}
		diff := control.EventTime.Sub(e.EventTime)
		if diff < 0 {
			diff = -diff
		}
		if diff > r.rules.ControlDivergence {
			return true
		}
	}
	return false
}

// pickRepresentative reduces a same-kind group to one event: highest
// priority wins; ties are merged by averaging their event times onto the
// freshest record.
func (r *Reconciler) pickRepresentative(group []CanonicalEvent) CanonicalEvent {
	best := group[0]
	ties := []CanonicalEvent{best}
	for _, e := range group[1:] {
		switch pe, pb := r.rules.Priorities.Priority(e.Source), r.rules.Priorities.Priority(best.Source); {
		case pe > pb:
			best = e
			ties = []CanonicalEvent{e}
		case pe == pb:
			ties = append(ties, e)
			if e.RecordTime.After(best.RecordTime) {
				best = e
			}
		}
	}
	if len(ties) > 1 {
		best.EventTime = averageTimes(ties)
	}
	return best
}

// AverageTime returns the midpoint instant of a and b with millisecond
// precision, the combinator used when two equal-priority clocks read the
// same underlying event.
func AverageTime(a, b time.Time) time.Time {
	return time.UnixMilli(a.UnixMilli()/2 + b.UnixMilli()/2 + (a.UnixMilli()%2+b.UnixMilli()%2)/2).UTC()
}

func averageTimes(events []CanonicalEvent) time.Time {
	avg := events[0].EventTime
	for _, e := range events[1:] {
		avg = AverageTime(avg, e.EventTime)
	}
	return avg
}

// FormatInstant renders t as an ISO-8601 instant with millisecond
// precision, the wire format of event times.
func FormatInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
