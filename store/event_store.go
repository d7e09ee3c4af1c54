package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"trackpoint/api/database"
	"trackpoint/api/models"
	"trackpoint/api/utils"
)

// EventStore appends accepted visits to ClickHouse and serves the
// dashboard aggregations over them.
type EventStore struct {
	DB *database.ClickHouseClient
}

type VisitCountByTime struct {
	Time  time.Time `json:"time"`
	Count uint64    `json:"count"`
}

func NewEventStore(chClient *database.ClickHouseClient) *EventStore {
	return &EventStore{
		DB: chClient,
	}
}

// EnsureSchema creates the visit_events table if it does not exist yet.
func (s *EventStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS visit_events (
			event_id String,
			address String,
			country LowCardinality(String),
			user_agent String,
			new_visitor UInt8,
			visit_time DateTime
		)
		ENGINE = MergeTree()
		ORDER BY (visit_time, address)
	`
	if err := s.DB.Conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure visit_events schema: %w", err)
	}
	return nil
}

// InsertVisitEvents appends a batch of accepted visits.
func (s *EventStore) InsertVisitEvents(ctx context.Context, events []models.VisitEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO visit_events (
			event_id, address, country, user_agent, new_visitor, visit_time
		) VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		newVisitor := uint8(0)
		if event.NewVisitor {
			newVisitor = 1
		}
		err := batch.Append(
			event.EventID,
			event.Address,
			event.Country,
			event.UserAgent,
			newVisitor,
			event.VisitTime,
		)
		if err != nil {
			log.Printf("Error appending visit event to batch (EventID: %s): %v", event.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// GetVisitCountsOverTime buckets accepted visits by the given interval.
func (s *EventStore) GetVisitCountsOverTime(ctx context.Context, interval string, start, end time.Time) ([]VisitCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(visit_time) AS time_bucket, count() AS total_visits
		FROM visit_events
		WHERE visit_time >= ? AND visit_time <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query visit counts over time: %w", err)
	}
	defer rows.Close()

	var results []VisitCountByTime
	for rows.Next() {
		var timeBucket time.Time
		var count uint64
		if err := rows.Scan(&timeBucket, &count); err != nil {
			log.Printf("Error scanning row for visit counts over time: %v", err)
			continue
		}
		results = append(results, VisitCountByTime{Time: timeBucket, Count: count})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during visit counts query: %w", err)
	}

	return results, nil
}

// GetUniqueVisitorsOverTime buckets distinct addresses by the given interval.
func (s *EventStore) GetUniqueVisitorsOverTime(ctx context.Context, interval string, start, end time.Time) ([]VisitCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(visit_time) AS time_bucket, uniq(address) AS unique_visitors
		FROM visit_events
		WHERE visit_time >= ? AND visit_time <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique visitors over time: %w", err)
	}
	defer rows.Close()

	var results []VisitCountByTime
	for rows.Next() {
		var timeBucket time.Time
		var uniqueVisitors uint64
		if err := rows.Scan(&timeBucket, &uniqueVisitors); err != nil {
			log.Printf("Error scanning row for unique visitors: %v", err)
			continue
		}
		results = append(results, VisitCountByTime{Time: timeBucket, Count: uniqueVisitors})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique visitors: %w", err)
	}

	return results, nil
}

// GetTopCountries returns accepted visits grouped by enrichment country,
// most-visited first.
func (s *EventStore) GetTopCountries(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopCountryResult, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT country, count() AS visit_count
		FROM visit_events
		WHERE country != '' AND visit_time >= ? AND visit_time <= ?
		GROUP BY country
		ORDER BY visit_count DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top countries: %w", err)
	}
	defer rows.Close()

	var results []models.TopCountryResult
	for rows.Next() {
		var country string
		var count uint64
		if err := rows.Scan(&country, &count); err != nil {
			log.Printf("Error scanning row for top countries: %v", err)
			continue
		}
		results = append(results, models.TopCountryResult{
			Country: country,
			Count:   count,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top countries: %w", err)
	}

	return results, nil
}
