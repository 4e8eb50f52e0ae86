package reconcile

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/pkg/googleads"
)

// UploadReport is what an Uploader delivered.
type UploadReport struct {
	Uploaded int
	Failed   int
	// Unsent lists events that never reached the platform and still need a
	// manual upload.
	Unsent []model.ConversionEvent
}

// Sent is the number of events the platform received.
func (r *UploadReport) Sent() int {
	return r.Uploaded + r.Failed
}

// Uploader sends conversions to the ad platform. An Uploader that fails
// after part of the batch was received returns both a report and the error.
type Uploader interface {
	Upload(ctx context.Context, events []model.ConversionEvent) (*UploadReport, error)
}

// AdsUploader uploads conversions through the Google Ads API.
type AdsUploader struct {
	client googleads.Client

	mu      sync.Mutex
	actions map[string]string
	listed  bool
}

// NewAdsUploader creates an uploader. actions maps conversion action names to
// resource names; names are matched case-insensitively and any that are
// missing are looked up in the account on first use.
func NewAdsUploader(client googleads.Client, actions map[string]string) *AdsUploader {
	m := make(map[string]string, len(actions))
	for name, res := range actions {
		m[strings.ToLower(strings.TrimSpace(name))] = res
	}
	return &AdsUploader{client: client, actions: m}
}

// Upload resolves each event's conversion action and uploads the batch.
// Events whose action is unknown in the account are returned as Unsent.
func (u *AdsUploader) Upload(ctx context.Context, events []model.ConversionEvent) (*UploadReport, error) {
	report := &UploadReport{}
	convs := make([]googleads.ClickConversion, 0, len(events))
	queued := make([]model.ConversionEvent, 0, len(events))

	for _, ev := range events {
		resource, err := u.resolve(ctx, ev.Action)
		if err != nil {
			return nil, err
		}
		if resource == "" {
			report.Unsent = append(report.Unsent, ev)
			continue
		}
		convs = append(convs, clickConversion(ev, resource))
		queued = append(queued, ev)
	}

	if len(convs) == 0 {
		return report, nil
	}

	res, err := u.client.UploadClickConversions(ctx, convs)
	if err != nil {
		err = eris.Wrap(err, "reconcile: upload conversions")
		if res == nil || res.Uploaded+res.Failed == 0 {
			return nil, err
		}
		// Earlier batches went through; only the tail is left.
		report.Uploaded = res.Uploaded
		report.Failed = res.Failed
		report.Unsent = append(report.Unsent, queued[min(report.Sent(), len(queued)):]...)
		return report, err
	}
	report.Uploaded = res.Uploaded
	report.Failed = res.Failed
	return report, nil
}

func (u *AdsUploader) resolve(ctx context.Context, action string) (string, error) {
	key := strings.ToLower(action)

	u.mu.Lock()
	defer u.mu.Unlock()

	if res, ok := u.actions[key]; ok {
		return res, nil
	}
	if u.listed {
		return "", nil
	}

	listed, err := u.client.ConversionActions(ctx)
	if err != nil {
		return "", eris.Wrap(err, "reconcile: list conversion actions")
	}
	u.listed = true
	for name, res := range listed {
		k := strings.ToLower(name)
		if _, ok := u.actions[k]; !ok {
			u.actions[k] = res
		}
	}
	return u.actions[key], nil
}

func clickConversion(ev model.ConversionEvent, resource string) googleads.ClickConversion {
	var ids []googleads.UserIdentifier
	if ev.HashedEmail != "" {
		ids = append(ids, googleads.UserIdentifier{HashedEmail: ev.HashedEmail})
	}
	if ev.HashedPhone != "" {
		ids = append(ids, googleads.UserIdentifier{HashedPhoneNumber: ev.HashedPhone})
	}
	return googleads.ClickConversion{
		ConversionAction:   resource,
		ConversionDateTime: ev.FormattedTime(),
		ConversionValue:    ev.Value,
		CurrencyCode:       ev.Currency,
		OrderID:            ev.OrderID,
		UserIdentifiers:    ids,
	}
}
