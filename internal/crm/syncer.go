package crm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/lock"
	"github.com/sells-group/leadsync/internal/metrics"
	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/resilience"
	"github.com/sells-group/leadsync/internal/routing"
)

// Outcome is the result of syncing one lead.
type Outcome string

const (
	// OutcomeCreated means a new contact (and normally a deal) was written.
	OutcomeCreated Outcome = "success"
	// OutcomeExisting means the e-mail already belonged to a contact and
	// nothing was written.
	OutcomeExisting Outcome = "existing_contact"
)

// Result describes what Sync did. DealErr is set when the contact was
// created but the deal was not.
type Result struct {
	Outcome Outcome
	Contact *model.Contact
	Deal    *model.Deal
	DealErr error
}

// Syncer creates contacts and deals for new leads.
type Syncer struct {
	store   Store
	tables  *routing.Tables
	locker  lock.Locker
	breaker *resilience.Breaker
	timeout time.Duration
	metrics *metrics.Metrics
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithLocker serializes syncs of the same e-mail address.
func WithLocker(l lock.Locker) SyncerOption {
	return func(s *Syncer) { s.locker = l }
}

// WithBreaker guards CRM calls with a circuit breaker.
func WithBreaker(b *resilience.Breaker) SyncerOption {
	return func(s *Syncer) { s.breaker = b }
}

// WithTimeout bounds each CRM call. Non-positive values keep the default.
func WithTimeout(d time.Duration) SyncerOption {
	return func(s *Syncer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMetrics records CRM call outcomes.
func WithMetrics(m *metrics.Metrics) SyncerOption {
	return func(s *Syncer) { s.metrics = m }
}

// NewSyncer creates a Syncer. Without WithLocker an in-process lock is used.
func NewSyncer(store Store, tables *routing.Tables, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		store:   store,
		tables:  tables,
		locker:  lock.NewMemoryLocker(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync looks the lead's e-mail up and, when no contact exists, creates the
// contact and then its deal. The per-email lock is held for the whole
// lookup-then-create sequence. Failures to look up or create the contact
// match ErrDownstreamWrite; a failed deal is reported in Result.DealErr.
func (s *Syncer) Sync(ctx context.Context, lead model.Lead) (*Result, error) {
	email := model.NormalizeEmail(lead.Email)

	release, err := s.locker.Lock(ctx, "lead:"+email)
	if err != nil {
		return nil, &WriteError{Op: "lock", Err: err}
	}
	defer release()

	existing, err := call(ctx, s, "find_contact", func(ctx context.Context) (*model.Contact, error) {
		return s.store.FindContactByEmail(ctx, email)
	})
	if err != nil {
		return nil, &WriteError{Op: "find contact", Err: err}
	}
	if existing != nil {
		zap.L().Info("crm: contact already exists",
			zap.String("contact_id", existing.ID),
		)
		return &Result{Outcome: OutcomeExisting, Contact: existing}, nil
	}

	contact, err := call(ctx, s, "create_contact", func(ctx context.Context) (*model.Contact, error) {
		return s.store.CreateContact(ctx, ContactFromLead(lead))
	})
	if err != nil {
		return nil, &WriteError{Op: "create contact", Err: err}
	}

	res := &Result{Outcome: OutcomeCreated, Contact: contact}

	deal := model.Deal{
		Name:       DealName(lead.FirstName, lead.LastName, lead.Course),
		Value:      s.tables.DealValue(lead.InvestmentRange, lead.ProgramType),
		PipelineID: s.tables.Pipeline(lead.StudyTimeline),
		ContactIDs: []string{contact.ID},
	}
	created, err := call(ctx, s, "create_deal", func(ctx context.Context) (*model.Deal, error) {
		return s.store.CreateDeal(ctx, deal)
	})
	if err != nil {
		res.DealErr = &WriteError{Op: "create deal", Err: err}
		zap.L().Error("crm: deal creation failed; contact kept",
			zap.String("contact_id", contact.ID),
			zap.Error(err),
		)
		return res, nil
	}
	res.Deal = created

	zap.L().Info("crm: contact and deal created",
		zap.String("contact_id", contact.ID),
		zap.String("deal_id", created.ID),
		zap.String("pipeline", created.PipelineID),
		zap.Float64("deal_value", created.Value),
	)
	return res, nil
}

// call runs fn under the per-call timeout and the circuit breaker, and
// records the outcome.
func call[T any](ctx context.Context, s *Syncer, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		v   T
		err error
	)
	if s.breaker != nil {
		v, err = resilience.Call(ctx, s.breaker, fn)
	} else {
		v, err = fn(ctx)
	}
	s.metrics.CRMCall(op, err)
	return v, err
}
