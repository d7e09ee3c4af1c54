package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"trackpoint/api/botdetect"
	"trackpoint/api/enrich"
	"trackpoint/api/models"
	"trackpoint/api/ratelimit"
	"trackpoint/api/store"
)

// Outcome is the result of one tracking request.
type Outcome int

const (
	// OutcomeAcknowledged is the success-shaped response carrying no
	// tracking result. Bots receive it on the wire so the filter is not
	// signalled to adversaries.
	OutcomeAcknowledged Outcome = iota
	OutcomeTracked
	OutcomeBotFiltered
	OutcomeRateLimited
	OutcomeConfigError
	OutcomeUpstreamError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcknowledged:
		return "acknowledged"
	case OutcomeTracked:
		return "tracked"
	case OutcomeBotFiltered:
		return "bot_filtered"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeConfigError:
		return "config_error"
	case OutcomeUpstreamError:
		return "upstream_error"
	default:
		return "unknown"
	}
}

// localAddressSubstitute replaces loopback/private addresses so that local
// testing still exercises the full enrichment path.
const localAddressSubstitute = "8.8.8.8"

// VisitorStore is the keyed point access the tracker needs from Postgres.
type VisitorStore interface {
	FindByAddress(ctx context.Context, address string) (*models.Visitor, error)
	Create(ctx context.Context, visitor *models.Visitor) error
	RecordVisit(ctx context.Context, address, userAgent string, now time.Time) (int64, error)
}

// EventLogger appends accepted visits to the analytics log.
type EventLogger interface {
	InsertVisitEvents(ctx context.Context, events []models.VisitEvent) error
}

// Service sequences classification, rate limiting, store access and
// enrichment for one tracking request. Bot filtering and rate limiting are
// optional stages: disable them for ingest paths that must count
// everything.
type Service struct {
	Visitors VisitorStore
	Events   EventLogger // optional; nil disables the visit log
	Enricher enrich.Client

	FilterBots bool
	Cooldown   bool

	// Now is the clock, swappable in tests.
	Now func() time.Time
}

func NewService(visitors VisitorStore, events EventLogger, enricher enrich.Client) *Service {
	return &Service{
		Visitors:   visitors,
		Events:     events,
		Enricher:   enricher,
		FilterBots: true,
		Cooldown:   true,
		Now:        time.Now,
	}
}

// Track handles one inbound page view. The returned error is non-nil only
// for unexpected store failures; every expected condition is an Outcome.
func (s *Service) Track(ctx context.Context, address, userAgent string) (Outcome, error) {
	address = NormalizeAddress(address)

	if s.FilterBots && botdetect.IsBot(userAgent, address) {
		return OutcomeBotFiltered, nil
	}

	now := s.Now().UTC()

	visitor, err := s.Visitors.FindByAddress(ctx, address)
	if err == nil {
		if s.Cooldown && !ratelimit.Allow(visitor.LastVisit, now) {
			return OutcomeRateLimited, nil
		}
		return s.recordRepeatVisit(ctx, address, userAgent, visitor.Enrichment.CountryCodeOrEmpty(), now)
	}
	if !errors.Is(err, store.ErrVisitorNotFound) {
		return OutcomeUpstreamError, fmt.Errorf("looking up visitor %s: %w", address, err)
	}

	// First time we see this address.
	if s.Enricher == nil {
		return OutcomeConfigError, nil
	}

	enrichment, err := s.Enricher.Lookup(ctx, address)
	if err != nil {
		return OutcomeUpstreamError, fmt.Errorf("enriching visitor %s: %w", address, err)
	}

	visitor = &models.Visitor{
		Address:    address,
		VisitCount: 1,
		Enrichment: *enrichment,
		FirstVisit: now,
		LastVisit:  now,
	}
	if userAgent != "" {
		visitor.UserAgent = &userAgent
	}

	err = s.Visitors.Create(ctx, visitor)
	if errors.Is(err, store.ErrDuplicateAddress) {
		// A concurrent request created this visitor between our lookup and
		// insert. Count this request against the existing record instead.
		return s.recordRepeatVisit(ctx, address, userAgent, visitor.Enrichment.CountryCodeOrEmpty(), now)
	}
	if err != nil {
		return OutcomeUpstreamError, fmt.Errorf("creating visitor %s: %w", address, err)
	}

	s.logVisit(models.VisitEvent{
		EventID:    uuid.New().String(),
		Address:    address,
		Country:    visitor.Enrichment.CountryCodeOrEmpty(),
		UserAgent:  userAgent,
		NewVisitor: true,
		VisitTime:  now,
	})

	return OutcomeTracked, nil
}

func (s *Service) recordRepeatVisit(ctx context.Context, address, userAgent, country string, now time.Time) (Outcome, error) {
	if _, err := s.Visitors.RecordVisit(ctx, address, userAgent, now); err != nil {
		return OutcomeUpstreamError, fmt.Errorf("recording visit for %s: %w", address, err)
	}

	s.logVisit(models.VisitEvent{
		EventID:   uuid.New().String(),
		Address:   address,
		Country:   country,
		UserAgent: userAgent,
		VisitTime: now,
	})

	return OutcomeTracked, nil
}

// logVisit appends to the analytics log without blocking the request.
// A failed append loses one analytics row, never the visit itself.
func (s *Service) logVisit(event models.VisitEvent) {
	if s.Events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.Events.InsertVisitEvents(ctx, []models.VisitEvent{event}); err != nil {
			log.Printf("Error inserting visit event for %s: %v", event.Address, err)
		}
	}()
}

// NormalizeAddress substitutes loopback, private and unspecified addresses
// with a fixed public one so local requests resolve to real enrichment
// data. Anything unparseable passes through untouched.
func NormalizeAddress(address string) string {
	ip := net.ParseIP(address)
	if ip == nil {
		return address
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return localAddressSubstitute
	}
	return address
}
