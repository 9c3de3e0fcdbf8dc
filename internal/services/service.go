package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gastos/internal/amqp"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/query"
	"gastos/internal/remote"
	"gastos/internal/resilience"
)

// Query namespaces. Keys start with the namespace so that invalidating a
// collection name drops every cached list of it.
const (
	PatternDashboard = "dashboard"
	PatternMetadata  = "metadata"
	PatternUsers     = "admin_users"
)

var (
	ErrForbidden = errors.New("operation not allowed for this user")
	ErrNotFound  = errors.New("record not found")
)

// Publisher announces writes to other processes.
type Publisher interface {
	Publish(ctx context.Context, e *amqp.ChangeEvent) error
}

// Attachment is a file uploaded with a record. Data is kept in memory.
type Attachment struct {
	Data        []byte
	ContentType string
}

type Options struct {
	Registry  *query.Registry
	Retrier   *resilience.Retrier
	Publisher Publisher
	Timeout   time.Duration
	RateLimit time.Duration
	Logger    *log.Logger
	Now       func() time.Time
}

// Service reads and writes the dashboard records on behalf of a viewer.
// Reads go through per-namespace query stores; writes invalidate them.
type Service struct {
	backend   remote.Backend
	registry  *query.Registry
	retrier   *resilience.Retrier
	publisher Publisher
	timeout   time.Duration
	now       func() time.Time
	logger    *log.Logger

	expenses   *query.Store[[]core.Expense]
	incomes    *query.Store[[]core.Income]
	categories *query.Store[[]core.Category]
	methods    *query.Store[[]core.PaymentMethod]
	users      *query.Store[[]core.User]
}

func NewService(backend remote.Backend, opts Options) *Service {
	if opts.Registry == nil {
		opts.Registry = query.NewRegistry()
	}
	if opts.Retrier == nil {
		opts.Retrier = resilience.NewRetrier()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = resilience.DefaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = query.DefaultRateLimit
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	storeOpts := []query.StoreOption{
		query.WithRateLimit(opts.RateLimit),
		query.WithClock(opts.Now),
		query.WithLogger(opts.Logger),
	}
	s := &Service{
		backend:    backend,
		registry:   opts.Registry,
		retrier:    opts.Retrier,
		publisher:  opts.Publisher,
		timeout:    opts.Timeout,
		now:        opts.Now,
		logger:     opts.Logger.WithComponent(log.ComponentRecords),
		expenses:   query.NewStore[[]core.Expense](core.CollectionExpenses, storeOpts...),
		incomes:    query.NewStore[[]core.Income](core.CollectionIncomes, storeOpts...),
		categories: query.NewStore[[]core.Category](core.CollectionCategories, storeOpts...),
		methods:    query.NewStore[[]core.PaymentMethod](core.CollectionPaymentMethods, storeOpts...),
		users:      query.NewStore[[]core.User](core.CollectionUsers, storeOpts...),
	}
	s.registry.Register(s.expenses, s.incomes, s.categories, s.methods, s.users)
	return s
}

// Registry returns the registry the service's stores are registered in.
func (s *Service) Registry() *query.Registry {
	return s.registry
}

// PatternsFor lists the key patterns a write to collection makes stale.
func PatternsFor(collection string) []string {
	switch collection {
	case core.CollectionExpenses, core.CollectionIncomes:
		return []string{collection, PatternDashboard}
	case core.CollectionCategories, core.CollectionPaymentMethods:
		return []string{PatternMetadata, PatternDashboard}
	case core.CollectionUsers:
		return []string{PatternUsers}
	default:
		return []string{collection}
	}
}

// HandleChange applies a change made elsewhere to the local query stores.
func (s *Service) HandleChange(ctx context.Context, e *amqp.ChangeEvent) error {
	removed := s.registry.Invalidate(PatternsFor(e.Collection)...)
	s.logger.DebugContext(ctx, "Applied remote change",
		log.FieldEventID, e.ID,
		log.FieldCollection, e.Collection,
		"removed", removed)
	return nil
}

// ForgetUser drops every cached query of a user, e.g. on sign out.
func (s *Service) ForgetUser(uid core.ID) int {
	if uid == "" {
		return 0
	}
	return s.registry.Invalidate(uid.String())
}

// afterWrite invalidates stale queries and announces the change. A failed
// publish is logged; the write itself already succeeded.
func (s *Service) afterWrite(ctx context.Context, collection, op string, recordID, userID core.ID, day core.Date) {
	removed := s.registry.Invalidate(PatternsFor(collection)...)
	s.logger.InfoContext(ctx, "Record written",
		log.FieldCollection, collection,
		log.FieldOperation, op,
		log.FieldRecordID, recordID.String(),
		log.FieldUserID, userID.String(),
		"invalidated", removed)

	if s.publisher == nil {
		return
	}
	e := amqp.NewChangeEvent(collection, op, recordID, userID, day)
	if err := s.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish change event",
			log.FieldEventID, e.ID,
			log.FieldCollection, collection,
			log.FieldError, err)
	}
}

// upload stores a validated attachment under <uid>/<uuid>.<ext> and returns
// its public URL.
func (s *Service) upload(ctx context.Context, v core.Viewer, bucket string, a *Attachment) (string, error) {
	ext, err := core.ValidateAttachment(a.ContentType, int64(len(a.Data)))
	if err != nil {
		return "", err
	}
	path := fmt.Sprintf("%s/%s.%s", v.UserID, uuid.NewString(), ext)
	err = resilience.OnceExec(ctx, s.retrier, bucket+".upload", s.timeout, func(ctx context.Context) error {
		return s.backend.Upload(ctx, v.AccessToken, bucket, path, bytes.NewReader(a.Data), a.ContentType)
	})
	if err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	return s.backend.PublicURL(bucket, path), nil
}

// selectOne reads the single row of collection with id.
func selectOne[T any](ctx context.Context, s *Service, v core.Viewer, collection string, id core.ID) (T, error) {
	var zero T
	q := remote.From(collection).Eq("id", id).Limit(1)
	rows, err := resilience.Call(ctx, s.retrier, collection+".get", s.timeout, func(ctx context.Context) ([]T, error) {
		var out []T
		err := s.backend.Select(ctx, v.AccessToken, q, &out)
		return out, err
	})
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
	}
	return rows[0], nil
}

// checkEditable enforces ownership and the edit window for non-admins.
func (s *Service) checkEditable(v core.Viewer, owner core.ID, day core.Date) error {
	if v.IsAdmin() {
		return nil
	}
	if owner != v.UserID {
		return ErrForbidden
	}
	if !core.CanEditRecord(day, v.Role, s.now()) {
		return core.ErrEditWindowClosed
	}
	return nil
}

func requireAdmin(v core.Viewer) error {
	if !v.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
