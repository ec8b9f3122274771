package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tmfg/portcall-timestamp-service/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaIntakeTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	DatabaseURL string

	BatchSize        int
	TriggerInterval  time.Duration
	FetchConcurrency int

	// Prediction provider configuration.
	PredictionBaseURL string
	PredictionToken   string
	PredictionTimeout time.Duration

	// Normalization rules.
	Jurisdiction         string
	OwnFeedID            string
	DestinationOverrides []string
	PilotBoardingEmit    []string
	DualPublish          []string

	// Reconciliation thresholds.
	SourcePriority    []domain.Source
	ControlStaleness  time.Duration
	ControlDivergence time.Duration

	// Read-side retention window and purge horizon.
	RetentionPast   time.Duration
	RetentionFuture time.Duration
	PurgeHorizon    time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	predictionTimeout, err := parseDuration("PREDICTION_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	triggerInterval, err := parseDuration("TRIGGER_INTERVAL", "5m")
	if err != nil {
		return nil, err
	}
	controlStaleness, err := parseDuration("CONTROL_STALENESS", "60m")
	if err != nil {
		return nil, err
	}
	controlDivergence, err := parseDuration("CONTROL_DIVERGENCE", "30m")
	if err != nil {
		return nil, err
	}
	retentionPast, err := parseDuration("RETENTION_PAST", "312h") // 13 days
	if err != nil {
		return nil, err
	}
	retentionFuture, err := parseDuration("RETENTION_FUTURE", "84h")
	if err != nil {
		return nil, err
	}
	purgeHorizon, err := parseDuration("PURGE_HORIZON", "168h") // 7 days
	if err != nil {
		return nil, err
	}

	priorities, err := parseSourcePriority(os.Getenv("SOURCE_PRIORITY"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:     splitCSV(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaIntakeTopic: envOrDefault("KAFKA_INTAKE_TOPIC", "portcall-timestamps-intake"),
		KafkaSinkTopic:   envOrDefault("KAFKA_SINK_TOPIC", "portcall-timelines"),
		KafkaGroupID:     envOrDefault("KAFKA_GROUP_ID", "portcall-timestamp-service"),
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,

		DatabaseURL: os.Getenv("DATABASE_URL"),

		BatchSize:        parsePositiveInt("BATCH_SIZE", 50),
		TriggerInterval:  triggerInterval,
		FetchConcurrency: parsePositiveInt("FETCH_CONCURRENCY", 10),

		PredictionBaseURL: os.Getenv("PREDICTION_BASE_URL"),
		PredictionToken:   os.Getenv("PREDICTION_TOKEN"),
		PredictionTimeout: predictionTimeout,

		Jurisdiction:         envOrDefault("JURISDICTION", "FI"),
		OwnFeedID:            envOrDefault("OWN_FEED_ID", "portcall-timestamp-service"),
		DestinationOverrides: splitCSV(os.Getenv("DESTINATION_OVERRIDES")),
		PilotBoardingEmit:    splitCSV(os.Getenv("PILOT_BOARDING_EMIT")),
		DualPublish:          splitCSV(os.Getenv("DUAL_PUBLISH")),

		SourcePriority:    priorities,
		ControlStaleness:  controlStaleness,
		ControlDivergence: controlDivergence,

		RetentionPast:   retentionPast,
		RetentionFuture: retentionFuture,
		PurgeHorizon:    purgeHorizon,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaIntakeTopic == "" {
		return nil, errors.New("KAFKA_INTAKE_TOPIC is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.PredictionBaseURL == "" {
		return nil, errors.New("PREDICTION_BASE_URL is required")
	}

	return cfg, nil
}

// Priorities builds the reconciliation priority table: the configured order
// when SOURCE_PRIORITY is set, the fixed product order otherwise.
func (c *Config) Priorities() domain.PriorityTable {
	if len(c.SourcePriority) == 0 {
		return domain.DefaultPriorities()
	}
	table := make(domain.PriorityTable, len(c.SourcePriority))
	for i, s := range c.SourcePriority {
		table[s] = i + 1
	}
	return table
}

// NormalizerRules assembles the immutable normalization rule set.
func (c *Config) NormalizerRules() domain.NormalizerRules {
	return domain.NormalizerRules{
		Jurisdiction:         c.Jurisdiction,
		ShortHorizon:         domain.DefaultShortHorizon,
		DestinationOverrides: toSet(c.DestinationOverrides),
		PilotBoardingEmit:    toSet(c.PilotBoardingEmit),
		DualPublish:          toSet(c.DualPublish),
		OwnFeedID:            c.OwnFeedID,
	}
}

// ReconcilerRules assembles the immutable reconciliation rule set.
func (c *Config) ReconcilerRules() domain.ReconcilerRules {
	return domain.ReconcilerRules{
		Priorities:        c.Priorities(),
		ControlStaleness:  c.ControlStaleness,
		ControlDivergence: c.ControlDivergence,
	}
}

// parseSourcePriority parses a comma-separated source list ordered lowest
// priority first. An empty value selects the default order.
func parseSourcePriority(v string) ([]domain.Source, error) {
	if v == "" {
		return nil, nil
	}
	parts := splitCSV(v)
	sources := make([]domain.Source, 0, len(parts))
	for _, p := range parts {
		s, err := domain.ParseSource(p)
		if err != nil {
			return nil, fmt.Errorf("SOURCE_PRIORITY: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
