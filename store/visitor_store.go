package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"trackpoint/api/models"
)

var (
	// ErrVisitorNotFound is returned by FindByAddress for a never-seen address.
	ErrVisitorNotFound = errors.New("visitor not found")
	// ErrDuplicateAddress is returned by Create when another request won the
	// race to insert the same address. Callers recover by switching to the
	// repeat-visit path.
	ErrDuplicateAddress = errors.New("visitor address already exists")
)

type VisitorStore struct {
	db *sql.DB
}

func NewVisitorStore(db *sql.DB) *VisitorStore {
	return &VisitorStore{db: db}
}

// EnsureSchema creates the visitors table if it does not exist yet.
func (s *VisitorStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS visitors (
			address TEXT PRIMARY KEY,
			visit_count BIGINT NOT NULL DEFAULT 1,
			user_agent TEXT,
			enrichment JSONB NOT NULL DEFAULT '{}'::jsonb,
			first_visit TIMESTAMPTZ NOT NULL,
			last_visit TIMESTAMPTZ NOT NULL
		);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure visitors schema: %w", err)
	}
	return nil
}

// FindByAddress loads the record keyed by address, or ErrVisitorNotFound.
func (s *VisitorStore) FindByAddress(ctx context.Context, address string) (*models.Visitor, error) {
	visitor := &models.Visitor{}
	var enrichmentJSON []byte
	query := `
		SELECT address, visit_count, user_agent, enrichment, first_visit, last_visit
		FROM visitors
		WHERE address = $1;
	`
	err := s.db.QueryRowContext(ctx, query, address).Scan(
		&visitor.Address,
		&visitor.VisitCount,
		&visitor.UserAgent,
		&enrichmentJSON,
		&visitor.FirstVisit,
		&visitor.LastVisit,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVisitorNotFound
		}
		return nil, fmt.Errorf("failed to get visitor by address: %w", err)
	}

	if err := json.Unmarshal(enrichmentJSON, &visitor.Enrichment); err != nil {
		return nil, fmt.Errorf("failed to decode enrichment for %s: %w", address, err)
	}

	return visitor, nil
}

// Create inserts a brand-new visitor record. Two concurrent first requests
// from the same address race here; the loser gets ErrDuplicateAddress from
// the primary-key constraint.
func (s *VisitorStore) Create(ctx context.Context, visitor *models.Visitor) error {
	enrichmentJSON, err := json.Marshal(visitor.Enrichment)
	if err != nil {
		return fmt.Errorf("failed to encode enrichment: %w", err)
	}

	query := `
		INSERT INTO visitors (address, visit_count, user_agent, enrichment, first_visit, last_visit)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err = s.db.ExecContext(ctx, query,
		visitor.Address,
		visitor.VisitCount,
		visitor.UserAgent,
		enrichmentJSON,
		visitor.FirstVisit,
		visitor.LastVisit,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return ErrDuplicateAddress
		}
		return fmt.Errorf("failed to create visitor: %w", err)
	}

	return nil
}

// RecordVisit counts a repeat visit in a single atomic statement so that
// concurrent requests from the same address cannot produce a partial
// record. Returns the updated visit count.
func (s *VisitorStore) RecordVisit(ctx context.Context, address, userAgent string, now time.Time) (int64, error) {
	query := `
		UPDATE visitors
		SET visit_count = visit_count + 1,
		    last_visit = $2,
		    user_agent = $3
		WHERE address = $1
		RETURNING visit_count;
	`
	var visitCount int64
	err := s.db.QueryRowContext(ctx, query, address, now, userAgent).Scan(&visitCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrVisitorNotFound
		}
		return 0, fmt.Errorf("failed to record visit for %s: %w", address, err)
	}

	return visitCount, nil
}
