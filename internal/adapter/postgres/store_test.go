package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tmfg/portcall-timestamp-service/internal/domain"
)

func TestWindowBounds(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	w := Window{Past: 13 * 24 * time.Hour, Future: 84 * time.Hour}

	from, to := w.Bounds(now)

	assert.Equal(t, time.Date(2025, 2, 25, 12, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), to)
}

func TestPortcallMatches(t *testing.T) {
	ref := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	past := ref.Add(-2 * time.Hour)
	future := ref.Add(2 * time.Hour)

	tests := []struct {
		name      string
		eventType domain.EventType
		eta, etd  *time.Time
		ata, atd  *time.Time
		want      bool
	}{
		{"ETA with planned arrival ahead", domain.ETA, &future, nil, nil, nil, true},
		{"ETA with planned arrival behind", domain.ETA, &past, nil, nil, nil, false},
		{"ETA without planned arrival", domain.ETA, nil, nil, nil, nil, false},
		{"ETB follows the arrival constraint", domain.ETB, &future, nil, nil, nil, true},
		{"ETP follows the arrival constraint", domain.ETP, &past, nil, nil, nil, false},
		{"ETD with planned departure ahead", domain.ETD, nil, &future, nil, nil, true},
		{"ETD with planned departure behind", domain.ETD, nil, &past, nil, nil, false},
		{"ATA with observed arrival behind", domain.ATA, nil, nil, &past, nil, true},
		{"ATA with observed arrival ahead", domain.ATA, nil, nil, &future, nil, false},
		{"ATD with observed departure behind", domain.ATD, nil, nil, nil, &past, true},
		{"ATD without observed departure", domain.ATD, nil, nil, nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := portcallMatches(tt.eventType, ref, tt.eta, tt.etd, tt.ata, tt.atd)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(""))

	v := nullable("FIHKO")
	assert.NotNil(t, v)
	assert.Equal(t, "FIHKO", *v)
}
