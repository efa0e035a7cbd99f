package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/config"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/events"
	"shopledger/backend/internal/lock"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/validate"
	"shopledger/backend/internal/xid"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSaleNotFound  = fmt.Errorf("sale %w", store.ErrNotFound)
	ErrInvalidAmount = fmt.Errorf("amount must be greater than zero: %w", store.ErrInvalidInput)
)

// ValidationError carries per-field messages keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return store.ErrInvalidInput
}

func fieldError(field string, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Options are the collaborators of a Service. Zero values fall back to
// in-process implementations.
type Options struct {
	Cache       cache.StatsCache
	StatsTTL    time.Duration
	Locker      lock.Locker
	Publisher   events.Publisher
	Logger      logrus.FieldLogger
	PhoneRegion string
	Now         func() time.Time
}

type Service struct {
	repo        store.Repository
	cache       cache.StatsCache
	statsTTL    time.Duration
	locker      lock.Locker
	publisher   events.Publisher
	logger      logrus.FieldLogger
	phoneRegion string
	now         func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	s := &Service{
		repo:        repo,
		cache:       opts.Cache,
		statsTTL:    opts.StatsTTL,
		locker:      opts.Locker,
		publisher:   opts.Publisher,
		logger:      opts.Logger,
		phoneRegion: opts.PhoneRegion,
		now:         opts.Now,
	}
	if s.cache == nil {
		s.cache = cache.NoopStatsCache{}
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.publisher == nil {
		s.publisher = events.Noop{}
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.phoneRegion == "" {
		s.phoneRegion = "PK"
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) owner(ctx context.Context) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.OwnerID == "" {
		return "", ErrUnauthorized
	}
	return actor.OwnerID, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func checkRequest(req any) error {
	fields, err := validate.Struct(req)
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// lockOwner serializes multi-record workflows of one owner.
func (s *Service) lockOwner(ctx context.Context, ownerID string) (func(), error) {
	return s.locker.Obtain(ctx, "owner:"+ownerID)
}

// appendLedger is best-effort: the running totals already moved, and a
// missing entry shows up as drift on reconcile.
func (s *Service) appendLedger(ctx context.Context, ownerID string, customerID string, kind string, entry domain.LedgerEntry) {
	entry.ID = xid.New("led")
	entry.OwnerID = ownerID
	entry.CustomerID = customerID
	entry.Kind = kind
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock()
	}
	if err := s.repo.AppendLedger(ctx, entry); err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":     "service",
			"customerId": customerID,
			"kind":       kind,
		}).Warnf("failed to append ledger entry: %v", err)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, ownerID string, entityID string, payload any) {
	err := s.publisher.Publish(ctx, domain.Event{
		Type:       eventType,
		OwnerID:    ownerID,
		EntityID:   entityID,
		OccurredAt: s.clock(),
		Payload:    payload,
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":   "service",
			"event":    eventType,
			"entityId": entityID,
		}).Warnf("failed to publish event: %v", err)
	}
}

func (s *Service) invalidateStats(ctx context.Context, ownerID string) {
	if err := s.cache.Invalidate(ctx, ownerID); err != nil {
		s.logger.WithField("module", "service").Warnf("failed to invalidate stats cache owner=%s: %v", ownerID, err)
	}
}

// downstreamFailure logs an update that failed after the primary write
// succeeded. Such failures are never returned to the caller.
func (s *Service) downstreamFailure(funcName string, context string, data any, err error) {
	config.LogError(s.logger, "service", funcName, context, data, err)
}

func pageOf[T any](items []T, total int, q domain.ListQuery) domain.Page[T] {
	if items == nil {
		items = []T{}
	}
	return domain.Page[T]{Data: items, Page: q.Page, Limit: q.Limit, Total: total}
}

// normalizePage clamps a 1-based page and a limit with a default and maximum.
func normalizePage(q domain.ListQuery, fallback int, max int) domain.ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = fallback
	}
	if q.Limit > max {
		q.Limit = max
	}
	return q
}

// parseDate accepts YYYY-MM-DD or an RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(domain.DateLayout, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func defaultString(value string, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
