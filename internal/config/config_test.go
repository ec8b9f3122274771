package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmfg/portcall-timestamp-service/internal/domain"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/portcalls")
	t.Setenv("PREDICTION_BASE_URL", "https://predictions.example.com")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "portcall-timestamps-intake", cfg.KafkaIntakeTopic)
	assert.Equal(t, "portcall-timelines", cfg.KafkaSinkTopic)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "FI", cfg.Jurisdiction)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 60*time.Minute, cfg.ControlStaleness)
	assert.Equal(t, 30*time.Minute, cfg.ControlDivergence)
	assert.Equal(t, 312*time.Hour, cfg.RetentionPast)
	assert.Equal(t, 84*time.Hour, cfg.RetentionFuture)
	assert.Equal(t, 168*time.Hour, cfg.PurgeHorizon)
	assert.Empty(t, cfg.DestinationOverrides)
}

func TestLoad_RequiredSettings(t *testing.T) {
	t.Run("missing DATABASE_URL", func(t *testing.T) {
		t.Setenv("PREDICTION_BASE_URL", "https://predictions.example.com")
		t.Setenv("DATABASE_URL", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DATABASE_URL")
	})

	t.Run("missing PREDICTION_BASE_URL", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost:5432/portcalls")
		t.Setenv("PREDICTION_BASE_URL", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PREDICTION_BASE_URL")
	})
}

func TestLoad_Lists(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DESTINATION_OVERRIDES", "FIHEL, FIRAU")
	t.Setenv("DUAL_PUBLISH", "FIRAU")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"FIHEL", "FIRAU"}, cfg.DestinationOverrides)

	rules := cfg.NormalizerRules()
	assert.True(t, rules.DestinationOverrides["FIHEL"])
	assert.True(t, rules.DualPublish["FIRAU"])
	assert.False(t, rules.DualPublish["FIHEL"])
}

func TestLoad_SourcePriority(t *testing.T) {
	t.Run("custom order lowest first", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("SOURCE_PRIORITY", "vts-control,ais-prediction,port-registry")

		cfg, err := Load()
		require.NoError(t, err)

		table := cfg.Priorities()
		assert.Greater(t, table.Priority(domain.SourcePortRegistry), table.Priority(domain.SourceAISPrediction))
		assert.Greater(t, table.Priority(domain.SourceAISPrediction), table.Priority(domain.SourceVTSControl))
	})

	t.Run("unknown source rejected", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("SOURCE_PRIORITY", "carrier-pigeon")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SOURCE_PRIORITY")
	})

	t.Run("default order when unset", func(t *testing.T) {
		setRequiredEnv(t)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultPriorities(), cfg.Priorities())
	})
}

func TestLoad_InvalidDurations(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CONTROL_STALENESS", "often")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONTROL_STALENESS")
}
