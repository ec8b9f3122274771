package domain

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPortcall = int64(2507001)

func testEvent(source Source, eventType EventType, eventTime, recordTime time.Time) CanonicalEvent {
	mmsi := 230123456
	return CanonicalEvent{
		EventType:  eventType,
		EventTime:  eventTime,
		RecordTime: recordTime,
		Source:     source,
		Ship:       Ship{MMSI: &mmsi},
		Location:   Location{Port: "FIHKO"},
		PortcallID: &testPortcall,
	}
}

func frozenReconciler(t *testing.T, now time.Time) *Reconciler {
	t.Helper()
	SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { SetClock(nil) })
	return NewReconciler(DefaultReconcilerRules())
}

func TestAverageTime(t *testing.T) {
	t.Run("exact midpoint of the reference instants", func(t *testing.T) {
		a := time.UnixMilli(1622549546737)
		b := time.UnixMilli(1622549553609)

		avg := AverageTime(a, b)

		assert.Equal(t, int64(1622549550173), avg.UnixMilli())
		assert.Equal(t, "2021-06-01T12:12:30.173Z", FormatInstant(avg))
	})

	t.Run("commutative", func(t *testing.T) {
		a := time.UnixMilli(1622549546737)
		b := time.UnixMilli(1622549553609)

		assert.Equal(t, AverageTime(a, b), AverageTime(b, a))
	})

	t.Run("identical inputs", func(t *testing.T) {
		a := time.UnixMilli(1622549546737)
		assert.Equal(t, a.UnixMilli(), AverageTime(a, a).UnixMilli())
	})
}

func TestReconcile_ProvisionalFiltering(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	r := frozenReconciler(t, now)

	t.Run("confirmed sibling drops provisional across kinds", func(t *testing.T) {
		events := []CanonicalEvent{
			testEvent(SourceAISPrediction, ETA, now.Add(4*time.Hour), now),
			testEvent(SourceAISConfirmed, ETD, now.Add(10*time.Hour), now),
		}

		result := r.Reconcile(events)

		require.Len(t, result, 1)
		assert.Equal(t, SourceAISConfirmed, result[0].Source)
		assert.Equal(t, ETD, result[0].EventType)
	})

	t.Run("registry event of a different kind is not a sibling", func(t *testing.T) {
		events := []CanonicalEvent{
			testEvent(SourceAISPrediction, ETA, now.Add(4*time.Hour), now),
			testEvent(SourcePortRegistry, ETD, now.Add(10*time.Hour), now),
		}

		result := r.Reconcile(events)

		require.Len(t, result, 2)
	})

	t.Run("provisional without confirmed sibling survives", func(t *testing.T) {
		events := []CanonicalEvent{
			testEvent(SourceAISPrediction, ETA, now.Add(4*time.Hour), now),
		}

		result := r.Reconcile(events)

		require.Len(t, result, 1)
		assert.Equal(t, SourceAISPrediction, result[0].Source)
	})

	t.Run("independent portcalls do not leak siblings", func(t *testing.T) {
		// The engine works per portcall: a confirmed record in one call
		// must not suppress an unrelated call's provisional record.
		withSibling := r.Reconcile([]CanonicalEvent{
			testEvent(SourceAISPrediction, ETA, now.Add(4*time.Hour), now),
			testEvent(SourceAISConfirmed, ETA, now.Add(5*time.Hour), now),
		})
		without := r.Reconcile([]CanonicalEvent{
			testEvent(SourceAISPrediction, ETA, now.Add(4*time.Hour), now),
		})

		require.Len(t, withSibling, 1)
		assert.Equal(t, SourceAISConfirmed, withSibling[0].Source)
		require.Len(t, without, 1)
		assert.Equal(t, SourceAISPrediction, without[0].Source)
	})
}

func TestReconcile_SourcePriority(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	r := frozenReconciler(t, now)

	t.Run("registry beats confirmed prediction for the same kind", func(t *testing.T) {
		events := []CanonicalEvent{
			testEvent(SourceAISConfirmed, ETA, now.Add(4*time.Hour), now),
			testEvent(SourcePortRegistry, ETA, now.Add(5*time.Hour), now),
		}

		result := r.Reconcile(events)

		require.Len(t, result, 1)
		assert.Equal(t, SourcePortRegistry, result[0].Source)
		assert.Equal(t, now.Add(5*time.Hour), result[0].EventTime)
	})

	t.Run("equal priority merges to the midpoint instant", func(t *testing.T) {
		a := testEvent(SourcePortRegistry, ETA, time.UnixMilli(1622549546737).UTC(), now)
		b := testEvent(SourcePortRegistry, ETA, time.UnixMilli(1622549553609).UTC(), now.Add(time.Minute))

		result := r.Reconcile([]CanonicalEvent{a, b})

		require.Len(t, result, 1)
		assert.Equal(t, int64(1622549550173), result[0].EventTime.UnixMilli())
	})
}

func TestReconcile_ControlFilters(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	r := frozenReconciler(t, now)

	t.Run("stale control record is excluded entirely", func(t *testing.T) {
		events := []CanonicalEvent{
			testEvent(SourceVTSControl, ETA, now.Add(4*time.Hour), now.Add(-2*time.Hour)),
		}

		result := r.Reconcile(events)

		assert.Empty(t, result)
	})

	t.Run("fresh control record survives", func(t *testing.T) {
		events := []CanonicalEvent{
			testEvent(SourceVTSControl, ETA, now.Add(4*time.Hour), now.Add(-10*time.Minute)),
		}

		result := r.Reconcile(events)

		require.Len(t, result, 1)
	})

	t.Run("divergent control record loses to the prediction", func(t *testing.T) {
		events := []CanonicalEvent{
			testEvent(SourceVTSControl, ETA, now.Add(4*time.Hour), now),
			testEvent(SourceAISConfirmed, ETA, now.Add(6*time.Hour), now),
		}

		result := r.Reconcile(events)

		require.Len(t, result, 1)
		assert.Equal(t, SourceAISConfirmed, result[0].Source)
	})

	t.Run("agreeing control record wins on priority", func(t *testing.T) {
		events := []CanonicalEvent{
			testEvent(SourceVTSControl, ETA, now.Add(4*time.Hour), now),
			testEvent(SourceAISConfirmed, ETA, now.Add(4*time.Hour).Add(10*time.Minute), now),
		}

		result := r.Reconcile(events)

		require.Len(t, result, 1)
		assert.Equal(t, SourceVTSControl, result[0].Source)
	})
}

func TestReconcile_Ordering(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	r := frozenReconciler(t, now)

	events := []CanonicalEvent{
		testEvent(SourceVTSControl, ETD, now.Add(12*time.Hour), now),
		testEvent(SourcePortRegistry, ETA, now.Add(2*time.Hour), now),
		testEvent(SourceAISConfirmed, ETP, now.Add(1*time.Hour), now),
	}

	t.Run("three kinds sorted ascending by event time", func(t *testing.T) {
		result := r.Reconcile(events)

		require.Len(t, result, 3)
		assert.Equal(t, ETP, result[0].EventType)
		assert.Equal(t, ETA, result[1].EventType)
		assert.Equal(t, ETD, result[2].EventType)
	})

	t.Run("shuffle invariance", func(t *testing.T) {
		expected := r.Reconcile(events)

		rng := rand.New(rand.NewSource(42))
		for i := 0; i < 20; i++ {
			shuffled := make([]CanonicalEvent, len(events))
			copy(shuffled, events)
			rng.Shuffle(len(shuffled), func(a, b int) {
				shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
			})

			if diff := cmp.Diff(expected, r.Reconcile(shuffled)); diff != "" {
				t.Fatalf("reconcile output depends on input order (-want +got):\n%s", diff)
			}
		}
	})

	t.Run("idempotence", func(t *testing.T) {
		first := r.Reconcile(events)
		second := r.Reconcile(events)

		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("reconcile is not idempotent (-first +second):\n%s", diff)
		}
	})
}
