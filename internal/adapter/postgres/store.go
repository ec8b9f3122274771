// Package postgres is the persistence coordinator: the only write path to
// the canonical timestamp store, plus the retention-windowed read path.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/tmfg/portcall-timestamp-service/internal/domain"
)

// Window bounds the active timeline exposed to readers. Events outside
// [now-Past, now+Future] stay in the store but are never returned.
type Window struct {
	Past   time.Duration
	Future time.Duration
}

// Bounds returns the window edges relative to now.
func (w Window) Bounds(now time.Time) (from, to time.Time) {
	return now.Add(-w.Past), now.Add(w.Future)
}

// Store persists canonical events in Postgres.
type Store struct {
	pool   *pgxpool.Pool
	window Window
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewStore creates a Store. Pass a nil clock to use real time.
func NewStore(pool *pgxpool.Pool, window Window, clk clockwork.Clock, logger *slog.Logger) *Store {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Store{pool: pool, window: window, clock: clk, logger: logger}
}

const eventColumns = `event_type, event_time, record_time, confidence_lower, confidence_upper,
	source, mmsi, imo, locode, port_area, from_locode, portcall_id`

// UpsertTimestamps writes a batch of canonical events in a single
// transaction. A partial failure rolls back the whole batch; callers retry
// the batch, never individual rows.
func (s *Store) UpsertTimestamps(ctx context.Context, events []domain.CanonicalEvent) ([]domain.UpsertResult, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert batch: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	results := make([]domain.UpsertResult, 0, len(events))
	for _, e := range events {
		result, err := s.upsertOne(ctx, tx, e)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert batch: %w", err)
	}
	return results, nil
}

// UpsertTimestamp writes one canonical event in its own transaction.
func (s *Store) UpsertTimestamp(ctx context.Context, e domain.CanonicalEvent) (domain.UpsertResult, error) {
	results, err := s.UpsertTimestamps(ctx, []domain.CanonicalEvent{e})
	if err != nil {
		return domain.UpsertResult{}, err
	}
	return results[0], nil
}

// upsertOne applies the locode-conflict rule, retires the rows this event
// supersedes, and inserts. Rows are never updated in place.
func (s *Store) upsertOne(ctx context.Context, tx pgx.Tx, e domain.CanonicalEvent) (domain.UpsertResult, error) {
	if err := e.Validate(); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("invalid event: %w", err)
	}

	result := domain.UpsertResult{Event: e}

	if e.PortcallID != nil {
		// The port call moved to a different destination: retire the
		// registry rows tied to the old locode before inserting.
		ct, err := tx.Exec(ctx, `
			DELETE FROM port_call_timestamps
			WHERE portcall_id = $1 AND source = $2 AND locode <> $3`,
			*e.PortcallID, string(domain.SourcePortRegistry), e.Location.Port)
		if err != nil {
			return domain.UpsertResult{}, fmt.Errorf("retire conflicting locode rows: %w", err)
		}
		result.LocodeChanged = ct.RowsAffected()
		if result.LocodeChanged > 0 {
			s.logger.Info("portcall locode changed",
				"portcall_id", *e.PortcallID,
				"locode", e.Location.Port,
				"retired", result.LocodeChanged,
			)
		}

		// Retire the rows this record supersedes under the same
		// portcall, source and kind.
		if _, err := tx.Exec(ctx, `
			DELETE FROM port_call_timestamps
			WHERE portcall_id = $1 AND source = $2 AND event_type = $3`,
			*e.PortcallID, string(e.Source), string(e.EventType)); err != nil {
			return domain.UpsertResult{}, fmt.Errorf("retire superseded rows: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO port_call_timestamps (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(e.EventType), e.EventTime, e.RecordTime,
		e.EventTimeConfidenceLower, e.EventTimeConfidenceUpper,
		string(e.Source), e.Ship.MMSI, e.Ship.IMO,
		e.Location.Port, nullable(e.Location.PortArea), nullable(e.Location.FromLocode),
		e.PortcallID); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("insert event: %w", err)
	}

	return result, nil
}

// FindByShip returns the windowed, newest-wins events for one ship.
func (s *Store) FindByShip(ctx context.Context, ship domain.Ship) ([]domain.CanonicalEvent, error) {
	if ship.Empty() {
		return nil, errors.New("ship requires an MMSI or IMO")
	}
	return s.findWhere(ctx,
		`(($1::int IS NOT NULL AND mmsi = $1) OR ($2::int IS NOT NULL AND imo = $2))`,
		ship.MMSI, ship.IMO)
}

// FindByLocode returns the windowed, newest-wins events for one destination.
func (s *Store) FindByLocode(ctx context.Context, locode string) ([]domain.CanonicalEvent, error) {
	return s.findWhere(ctx, `locode = $1`, locode)
}

// FindBySource returns the windowed, newest-wins events from one provider.
func (s *Store) FindBySource(ctx context.Context, source domain.Source) ([]domain.CanonicalEvent, error) {
	return s.findWhere(ctx, `source = $1`, string(source))
}

// FindByPortcall returns every stored event of one port call, unwindowed.
// Reconciliation is always a re-derivation from the full row set.
func (s *Store) FindByPortcall(ctx context.Context, portcallID int64) ([]domain.CanonicalEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM port_call_timestamps
		WHERE portcall_id = $1
		ORDER BY event_time`, portcallID)
	if err != nil {
		return nil, fmt.Errorf("query portcall events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// findWhere runs the windowed newest-wins query: within the retention
// window, only the row with the latest record time survives per
// (ship, locode, event type, source) key.
func (s *Store) findWhere(ctx context.Context, filter string, args ...any) ([]domain.CanonicalEvent, error) {
	from, to := s.window.Bounds(s.clock.Now())
	n := len(args)
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (COALESCE(mmsi, 0), COALESCE(imo, 0), locode, event_type, source)
			%s
		FROM port_call_timestamps
		WHERE %s AND event_time >= $%d AND event_time <= $%d
		ORDER BY COALESCE(mmsi, 0), COALESCE(imo, 0), locode, event_type, source, record_time DESC`,
		eventColumns, filter, n+1, n+2)

	rows, err := s.pool.Query(ctx, query, append(args, from, to)...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ResolvePortcall finds the durable port-call identity for an event, or nil
// when none matches. Predicted kinds only match a port call whose planned
// time is still ahead of refTime; actual kinds only one whose observed time
// is already behind it. A temporal violation means "no portcall", not an
// error.
func (s *Store) ResolvePortcall(ctx context.Context, locode string, eventType domain.EventType, refTime time.Time, ship domain.Ship) (*int64, error) {
	if ship.Empty() {
		return nil, errors.New("ship requires an MMSI or IMO")
	}

	var (
		portcallID int64
		eta, etd   *time.Time
		ata, atd   *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT portcall_id, planned_eta, planned_etd, actual_ata, actual_atd
		FROM port_calls
		WHERE locode = $1
		  AND (($2::int IS NOT NULL AND mmsi = $2) OR ($3::int IS NOT NULL AND imo = $3))
		ORDER BY portcall_id DESC
		LIMIT 1`,
		locode, ship.MMSI, ship.IMO).Scan(&portcallID, &eta, &etd, &ata, &atd)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve portcall: %w", err)
	}

	if !portcallMatches(eventType, refTime, eta, etd, ata, atd) {
		return nil, nil
	}
	return &portcallID, nil
}

// portcallMatches applies the kind-specific temporal constraint.
func portcallMatches(eventType domain.EventType, refTime time.Time, eta, etd, ata, atd *time.Time) bool {
	switch eventType {
	case domain.ETA, domain.ETB, domain.ETP:
		return eta != nil && eta.After(refTime)
	case domain.ETD:
		return etd != nil && etd.After(refTime)
	case domain.ATA:
		return ata != nil && ata.Before(refTime)
	case domain.ATD:
		return atd != nil && atd.Before(refTime)
	}
	return false
}

// LatestDestination returns the ship's most recently recorded destination
// and planned arrival, or nil when none is stored.
func (s *Store) LatestDestination(ctx context.Context, ship domain.Ship) (*domain.KnownDestination, error) {
	if ship.Empty() {
		return nil, errors.New("ship requires an MMSI or IMO")
	}

	var known domain.KnownDestination
	err := s.pool.QueryRow(ctx, `
		SELECT locode, event_time
		FROM port_call_timestamps
		WHERE event_type = $1
		  AND (($2::int IS NOT NULL AND mmsi = $2) OR ($3::int IS NOT NULL AND imo = $3))
		ORDER BY record_time DESC
		LIMIT 1`,
		string(domain.ETA), ship.MMSI, ship.IMO).Scan(&known.Locode, &known.Arrival)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest destination: %w", err)
	}
	return &known, nil
}

// ActiveShips returns the distinct ships with at least one event inside
// the retention window, the population the scheduled trigger polls.
func (s *Store) ActiveShips(ctx context.Context) ([]domain.Ship, error) {
	from, to := s.window.Bounds(s.clock.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT mmsi, imo
		FROM port_call_timestamps
		WHERE event_time >= $1 AND event_time <= $2`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query active ships: %w", err)
	}
	defer rows.Close()

	var ships []domain.Ship
	for rows.Next() {
		var ship domain.Ship
		if err := rows.Scan(&ship.MMSI, &ship.IMO); err != nil {
			return nil, fmt.Errorf("scan ship: %w", err)
		}
		if !ship.Empty() {
			ships = append(ships, ship)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ships: %w", err)
	}
	return ships, nil
}

// DeleteOlderThan purges events whose event time is more than horizon in
// the past and returns the number of rows removed.
func (s *Store) DeleteOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-horizon)
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM port_call_timestamps WHERE event_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return ct.RowsAffected(), nil
}

func scanEvents(rows pgx.Rows) ([]domain.CanonicalEvent, error) {
	var events []domain.CanonicalEvent
	for rows.Next() {
		var (
			e        domain.CanonicalEvent
			portArea *string
			from     *string
		)
		if err := rows.Scan(
			&e.EventType, &e.EventTime, &e.RecordTime,
			&e.EventTimeConfidenceLower, &e.EventTimeConfidenceUpper,
			&e.Source, &e.Ship.MMSI, &e.Ship.IMO,
			&e.Location.Port, &portArea, &from,
			&e.PortcallID,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if portArea != nil {
			e.Location.PortArea = *portArea
		}
		if from != nil {
			e.Location.FromLocode = *from
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
