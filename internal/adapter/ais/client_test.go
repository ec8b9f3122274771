package ais

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmfg/portcall-timestamp-service/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testShip() domain.Ship {
	mmsi := 230123456
	return domain.Ship{MMSI: &mmsi}
}

const predictionBody = `{
	"predictionType": "ETA",
	"locode": "FIHKO",
	"zoneType": "berth",
	"arrivalTime": "2025-03-10T20:00:00Z",
	"createdAt": "2025-03-10T12:00:00Z",
	"confirmed": true,
	"predictionSource": "ais-model-v3"
}`

func TestFetchPrediction(t *testing.T) {
	t.Run("decodes a confirmed prediction", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/predictions", r.URL.Path)
			assert.Equal(t, "230123456", r.URL.Query().Get("mmsi"))
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			w.Write([]byte(predictionBody)) //nolint:errcheck
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "secret", time.Second, testLogger())
		p, err := c.FetchPrediction(context.Background(), testShip(), "")

		require.NoError(t, err)
		assert.Equal(t, domain.SourceAISConfirmed, p.Source)
		assert.Equal(t, domain.ETA, p.PredictionType)
		assert.Equal(t, "FIHKO", p.Locode)
		assert.Equal(t, domain.ZoneBerth, p.Zone)
		require.NotNil(t, p.EventTime)
		assert.Equal(t, time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC), p.EventTime.UTC())
		assert.Equal(t, "ais-model-v3", p.SourcedFrom)
	})

	t.Run("explicit destination parameter", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "FIHKO", r.URL.Query().Get("destination"))
			w.Write([]byte(predictionBody)) //nolint:errcheck
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "secret", time.Second, testLogger())
		_, err := c.FetchPrediction(context.Background(), testShip(), "FIHKO")

		require.NoError(t, err)
	})

	t.Run("retries once on transient failure", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(predictionBody)) //nolint:errcheck
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "secret", time.Second, testLogger())
		p, err := c.FetchPrediction(context.Background(), testShip(), "")

		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, "FIHKO", p.Locode)
	})

	t.Run("gives up after the retry", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "secret", time.Second, testLogger())
		_, err := c.FetchPrediction(context.Background(), testShip(), "")

		require.Error(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("ship without identifier", func(t *testing.T) {
		c := NewClient("http://localhost:0", "secret", time.Second, testLogger())
		_, err := c.FetchPrediction(context.Background(), domain.Ship{}, "")

		require.Error(t, err)
	})

	t.Run("unknown prediction type", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"predictionType": "GUESS", "locode": "FIHKO"}`)) //nolint:errcheck
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "secret", time.Second, testLogger())
		_, err := c.FetchPrediction(context.Background(), testShip(), "")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown event type")
	})
}
