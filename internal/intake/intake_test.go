package intake

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadsync/internal/crm"
	"github.com/sells-group/leadsync/internal/metrics"
	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/notify"
)

type mockSyncer struct {
	syncFn func(ctx context.Context, lead model.Lead) (*crm.Result, error)
}

func (m *mockSyncer) Sync(ctx context.Context, lead model.Lead) (*crm.Result, error) {
	return m.syncFn(ctx, lead)
}

func created(lead model.Lead) (*crm.Result, error) {
	return &crm.Result{
		Outcome: crm.OutcomeCreated,
		Contact: &model.Contact{ID: "c1", Email: lead.Email},
		Deal:    &model.Deal{ID: "d1"},
	}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.HotLead
	err  error
}

func (r *recordingNotifier) NotifyHotLead(_ context.Context, l notify.HotLead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, l)
	return r.err
}

func TestSubmit_HotLeadCreated(t *testing.T) {
	var got model.Lead
	syncer := &mockSyncer{syncFn: func(_ context.Context, lead model.Lead) (*crm.Result, error) {
		got = lead
		return created(lead)
	}}
	n := &recordingNotifier{}
	svc := NewService(syncer, WithNotifier(n))

	sub := validSubmission()
	sub.UTMSource = "google Expected: google"
	sub.UTMMedium = "cpc"
	sub.FirstTouchSource = "facebook"
	sub.FirstTouchTimestamp = "2025-10-01T08:00:00Z"
	sub.LeadScore = 12

	res, err := svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Message)
	assert.Equal(t, 20, res.LeadScore)
	assert.Equal(t, "Hot Lead", res.LeadCategory)
	assert.Equal(t, "High", res.LeadPriority)
	assert.Equal(t, "January 2026 intake", res.QualificationData.StudyTimeline)

	assert.Equal(t, "jane@example.com", got.Email)
	assert.Equal(t, "Film Production", got.Course)
	assert.Equal(t, "google", got.LastTouch.Source)
	assert.Equal(t, "facebook", got.FirstTouch.Source)
	assert.Equal(t, 2025, got.FirstTouch.Timestamp.Year())
	assert.False(t, got.SubmittedAt.IsZero())

	require.Len(t, n.sent, 1)
	assert.Equal(t, "Jane", n.sent[0].FirstName)
	assert.Equal(t, 20, n.sent[0].Score)
}

func TestSubmit_ExistingContactNoNotification(t *testing.T) {
	syncer := &mockSyncer{syncFn: func(_ context.Context, lead model.Lead) (*crm.Result, error) {
		return &crm.Result{Outcome: crm.OutcomeExisting, Contact: &model.Contact{ID: "c1"}}, nil
	}}
	n := &recordingNotifier{}
	svc := NewService(syncer, WithNotifier(n))

	res, err := svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.Equal(t, "existing_contact", res.Message)
	assert.Equal(t, 20, res.LeadScore)
	assert.Empty(t, n.sent)
}

func TestSubmit_ColdLeadNoNotification(t *testing.T) {
	syncer := &mockSyncer{syncFn: func(_ context.Context, lead model.Lead) (*crm.Result, error) {
		return created(lead)
	}}
	n := &recordingNotifier{}
	svc := NewService(syncer, WithNotifier(n))

	sub := validSubmission()
	sub.StudyTimeline = "researching"
	sub.ProgramType = "weekend-parttime"
	sub.InvestmentRange = "under-100k"
	sub.CareerGoals = "personal-interest"
	sub.ExperienceLevel = "complete-beginner"

	res, err := svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, 5, res.LeadScore)
	assert.Equal(t, "Cold Lead", res.LeadCategory)
	assert.Empty(t, n.sent)
}

func TestSubmit_NotificationFailureSwallowed(t *testing.T) {
	syncer := &mockSyncer{syncFn: func(_ context.Context, lead model.Lead) (*crm.Result, error) {
		return created(lead)
	}}
	n := &recordingNotifier{err: errors.New("smtp down")}
	svc := NewService(syncer, WithNotifier(n), WithMetrics(metrics.New(prometheus.NewRegistry())))

	res, err := svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.Equal(t, "success", res.Message)
	assert.Len(t, n.sent, 1)
}

func TestSubmit_ValidationErrorSkipsCRM(t *testing.T) {
	called := false
	syncer := &mockSyncer{syncFn: func(context.Context, model.Lead) (*crm.Result, error) {
		called = true
		return nil, nil
	}}
	svc := NewService(syncer)

	sub := validSubmission()
	sub.Email = "not-an-email"
	_, err := svc.Submit(context.Background(), sub)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.False(t, called)
}

func TestSubmit_DownstreamFailure(t *testing.T) {
	syncer := &mockSyncer{syncFn: func(context.Context, model.Lead) (*crm.Result, error) {
		return nil, &crm.WriteError{Op: "create contact", Err: errors.New("status 503")}
	}}
	n := &recordingNotifier{}
	svc := NewService(syncer, WithNotifier(n))

	_, err := svc.Submit(context.Background(), validSubmission())
	require.Error(t, err)
	assert.ErrorIs(t, err, crm.ErrDownstreamWrite)
	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))
	assert.Empty(t, n.sent)
}

func TestHashPrefix(t *testing.T) {
	assert.Equal(t, "973dfe463ec8", hashPrefix("Test@Example.com"))
	assert.Empty(t, hashPrefix(""))
}
