// Package intake accepts enquiry-form submissions, scores them and hands them
// to the CRM.
package intake

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/crm"
	"github.com/sells-group/leadsync/internal/metrics"
	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/notify"
	"github.com/sells-group/leadsync/internal/scorer"
)

// Syncer writes a lead to the CRM.
type Syncer interface {
	Sync(ctx context.Context, lead model.Lead) (*crm.Result, error)
}

// Result is returned to the form on success.
type Result struct {
	Message           string                  `json:"message"`
	LeadScore         int                     `json:"leadScore"`
	LeadCategory      string                  `json:"leadCategory"`
	LeadPriority      string                  `json:"leadPriority"`
	QualificationData model.QualificationData `json:"qualificationData"`
}

// Service runs the intake flow.
type Service struct {
	syncer   Syncer
	notifier notify.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the hot-lead notifier. Defaults to notify.Noop.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics records lead outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a Service.
func NewService(syncer Syncer, opts ...Option) *Service {
	s := &Service{syncer: syncer, notifier: notify.Noop{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates, scores and syncs one submission. A *ValidationError is
// returned for bad input; any other error is a downstream failure.
func (s *Service) Submit(ctx context.Context, sub model.LeadSubmission) (*Result, error) {
	if err := Validate(sub); err != nil {
		s.metrics.Lead("invalid", -1)
		return nil, err
	}
	sanitizeAttribution(&sub)

	lead := s.buildLead(sub)
	log := zap.L().With(zap.String("email_hash", hashPrefix(lead.Email)))

	if sub.LeadScore != 0 && sub.LeadScore != lead.Score {
		log.Info("intake: client score differs from server score",
			zap.Int("client_score", sub.LeadScore),
			zap.Int("server_score", lead.Score),
		)
	}

	res, err := s.syncer.Sync(ctx, lead)
	if err != nil {
		s.metrics.Lead("error", -1)
		log.Error("intake: crm sync failed", zap.Error(err))
		return nil, eris.Wrap(err, "intake: sync lead")
	}

	if res.Outcome == crm.OutcomeCreated && scorer.IsHot(lead.Score) {
		nerr := s.notifier.NotifyHotLead(ctx, notify.HotLeadFrom(lead))
		s.metrics.Notification(nerr)
		if nerr != nil {
			log.Warn("intake: hot lead notification failed", zap.Error(nerr))
		}
	}

	s.metrics.Lead(string(res.Outcome), lead.Score)
	log.Info("intake: lead processed",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("score", lead.Score),
		zap.String("category", lead.Qualification.Label),
	)

	return &Result{
		Message:           string(res.Outcome),
		LeadScore:         lead.Score,
		LeadCategory:      lead.Qualification.Label,
		LeadPriority:      lead.Qualification.Priority,
		QualificationData: lead.Labels,
	}, nil
}

func (s *Service) buildLead(sub model.LeadSubmission) model.Lead {
	f := scorer.FactorsFrom(sub)
	score := scorer.Score(f)

	first := model.Touch{
		Source:   sub.FirstTouchSource,
		Medium:   sub.FirstTouchMedium,
		Campaign: sub.FirstTouchCampaign,
		Term:     sub.FirstTouchTerm,
		Content:  sub.FirstTouchContent,
	}
	if ts, err := time.Parse(time.RFC3339, sub.FirstTouchTimestamp); err == nil {
		first.Timestamp = ts
	}

	return model.Lead{
		Email:           model.NormalizeEmail(sub.Email),
		FirstName:       strings.TrimSpace(sub.FirstName),
		LastName:        strings.TrimSpace(sub.LastName),
		Phone:           strings.TrimSpace(sub.Phone),
		Course:          strings.TrimSpace(sub.CourseName),
		StudyTimeline:   sub.StudyTimeline,
		ProgramType:     sub.ProgramType,
		InvestmentRange: sub.InvestmentRange,
		Score:           score,
		Qualification:   scorer.Qualify(score),
		Labels:          scorer.Labels(f),
		FirstTouch:      first,
		LastTouch: model.Touch{
			Source:   sub.UTMSource,
			Medium:   sub.UTMMedium,
			Campaign: sub.UTMCampaign,
			Term:     sub.UTMTerm,
			Content:  sub.UTMContent,
		},
		LandingPage: sub.LandingPage,
		Referrer:    sub.Referrer,
		CurrentPage: sub.CurrentPage,
		GAClientID:  sub.GAClientID,
		SubmittedAt: s.now().UTC(),
	}
}

// hashPrefix identifies an address in logs without exposing it.
func hashPrefix(email string) string {
	h := model.HashEmail(email)
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
