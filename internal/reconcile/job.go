// Package reconcile turns CRM deals in conversion-worthy stages into hashed
// offline conversions and delivers them to the ad platform, falling back to
// a manual-upload export when the platform cannot be reached.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadsync/internal/crm"
	"github.com/sells-group/leadsync/internal/metrics"
	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/resilience"
	"github.com/sells-group/leadsync/internal/store"
)

// ErrFetch matches every CRM read failure that aborts a run. Use errors.Is.
var ErrFetch = eris.New("reconcile: crm fetch failed")

// ErrStageNotConvertible is returned for a stage filter naming a stage that
// never produces conversions.
var ErrStageNotConvertible = eris.New("reconcile: stage does not produce conversions")

// FetchError is a failed CRM read.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("reconcile: fetch %s: %v", e.Op, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

// Is reports ErrFetch as matching.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Skip reasons recorded for deals that yield no conversion.
const (
	ReasonNoContact     = "no linked contact"
	ReasonContactLookup = "contact lookup failed"
	ReasonNoIdentifier  = "no email or phone to hash"
	ReasonNoTime        = "no conversion time"
)

// Options select what a run does.
type Options struct {
	// DryRun computes the batch without uploading or writing anything.
	DryRun bool
	// Stage restricts the run to one conversion-worthy stage.
	Stage *model.Stage
}

// Config holds the job's tunables.
type Config struct {
	BaselineValue  float64
	Currency       string
	PageSize       int
	LogDir         string
	PersistMarkers bool
}

// Job is one configured reconciliation pipeline.
type Job struct {
	crm      crm.Store
	exporter *Exporter
	cfg      Config

	store    store.Store
	uploader Uploader
	breaker  *resilience.Breaker
	metrics  *metrics.Metrics
	now      func() time.Time
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithStore records run history, skipped deals and cross-run markers.
func WithStore(s store.Store) JobOption {
	return func(j *Job) { j.store = s }
}

// WithUploader enables API delivery. Without one every run exports.
func WithUploader(u Uploader) JobOption {
	return func(j *Job) { j.uploader = u }
}

// WithBreaker guards the upload with a circuit breaker.
func WithBreaker(b *resilience.Breaker) JobOption {
	return func(j *Job) { j.breaker = b }
}

// WithMetrics records delivered conversions and run outcomes.
func WithMetrics(m *metrics.Metrics) JobOption {
	return func(j *Job) { j.metrics = m }
}

// NewJob creates a Job reading from crmStore and exporting through exporter.
func NewJob(crmStore crm.Store, exporter *Exporter, cfg Config, opts ...JobOption) *Job {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Currency == "" {
		cfg.Currency = "KES"
	}
	j := &Job{crm: crmStore, exporter: exporter, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run reconciles the CRM's current deals. Only a CRM fetch failure or a
// failed export aborts the run; upload problems degrade to the export and
// run history failures are logged.
func (j *Job) Run(ctx context.Context, opts Options) (*model.UploadResult, error) {
	stageName := ""
	if opts.Stage != nil {
		if !opts.Stage.ConversionWorthy() {
			return nil, eris.Wrapf(ErrStageNotConvertible, "stage %s", opts.Stage)
		}
		stageName = opts.Stage.String()
	}

	log := zap.L().With(zap.Bool("dry_run", opts.DryRun), zap.String("stage", stageName))

	var runID string
	if !opts.DryRun && j.store != nil {
		run, err := j.store.CreateRun(ctx, false, stageName)
		if err != nil {
			log.Warn("reconcile: creating run record failed, continuing without run history", zap.Error(err))
		} else {
			runID = run.ID
			log = log.With(zap.String("run_id", runID))
		}
	}

	deals, contacts, err := j.fetch(ctx)
	if err != nil {
		log.Error("reconcile: fetch failed, run aborted", zap.Error(err))
		j.fail(ctx, runID, err)
		return nil, err
	}
	log.Info("reconcile: fetched crm data", zap.Int("deals", len(deals)), zap.Int("contacts", len(contacts)))

	events, skipped := j.buildEvents(ctx, deals, contacts, opts.Stage)
	events, alreadySent := j.dropReconciled(ctx, events)

	result := &model.UploadResult{
		RunID:       runID,
		Conversions: events,
		Skipped:     skipped,
		AlreadySent: alreadySent,
	}
	result.ByType, result.TotalValue = summarize(events)

	log.Info("reconcile: prepared conversions",
		zap.Int("conversions", len(events)),
		zap.Int("skipped", len(skipped)),
		zap.Int("already_sent", alreadySent),
		zap.Float64("total_value", result.TotalValue),
	)

	if opts.DryRun {
		result.Mode = model.UploadModeDryRun
		result.Success = true
		j.metrics.Run(string(model.UploadModeDryRun))
		return result, nil
	}

	var markable []model.ConversionEvent
	switch {
	case len(events) == 0:
		result.Mode = model.UploadModeNone
		result.Success = true
	default:
		markable, err = j.deliver(ctx, log, events, result)
		if err != nil {
			result.Error = err.Error()
			j.writeRunLog(log, result)
			j.fail(ctx, runID, err)
			return nil, err
		}
	}

	if runID != "" {
		j.persist(ctx, log, runID, result, markable)
	}
	j.writeRunLog(log, result)

	j.metrics.Conversions(string(result.Mode), len(events))
	j.metrics.Run(string(result.Mode))
	log.Info("reconcile: run complete",
		zap.String("mode", string(result.Mode)),
		zap.Int("uploaded", result.Uploaded),
		zap.Int("failed", result.Failed),
		zap.String("file", result.File),
	)
	return result, nil
}

// deliver uploads events and exports whatever the platform did not receive.
// It returns the events that may be marked as reconciled.
func (j *Job) deliver(ctx context.Context, log *zap.Logger, events []model.ConversionEvent, result *model.UploadResult) ([]model.ConversionEvent, error) {
	if j.uploader == nil {
		log.Info("reconcile: no ad platform credentials, exporting for manual upload")
		return events, j.export(ctx, events, model.UploadModeManualUpload, result)
	}

	report, err := j.upload(ctx, events)
	if err != nil {
		log.Warn("reconcile: upload failed, exporting for manual upload",
			zap.String("error_class", resilience.Classify(err)),
			zap.Int("sent", sentCount(report)),
			zap.Error(err),
		)
		result.Error = err.Error()
		if report == nil || report.Sent() == 0 {
			return events, j.export(ctx, events, model.UploadModeManualUpload, result)
		}
	}

	result.Uploaded = report.Uploaded
	result.Failed = report.Failed
	switch {
	case len(report.Unsent) == 0:
		result.Mode = model.UploadModeAPI
		result.Success = true
	case report.Sent() == 0:
		log.Warn("reconcile: no conversion action matched in the ad account, exporting for manual upload",
			zap.Int("unsent", len(report.Unsent)))
		if err := j.export(ctx, report.Unsent, model.UploadModeManualUpload, result); err != nil {
			return nil, err
		}
	default:
		log.Warn("reconcile: exporting conversions the ad platform did not receive",
			zap.Int("sent", report.Sent()),
			zap.Int("unsent", len(report.Unsent)))
		if err := j.export(ctx, report.Unsent, model.UploadModeMixed, result); err != nil {
			return nil, err
		}
	}

	if report.Failed > 0 {
		// Rejected items are not identified individually; leave the whole
		// batch unmarked so the next run offers it again.
		return nil, nil
	}
	return events, nil
}

// export writes events for manual upload and records the outcome.
func (j *Job) export(ctx context.Context, events []model.ConversionEvent, mode model.UploadMode, result *model.UploadResult) error {
	path, err := j.exporter.Export(ctx, events)
	if err != nil {
		return eris.Wrap(err, "reconcile: export")
	}
	result.Mode = mode
	result.Success = true
	result.File = path
	return nil
}

func sentCount(r *UploadReport) int {
	if r == nil {
		return 0
	}
	return r.Sent()
}

func (j *Job) upload(ctx context.Context, events []model.ConversionEvent) (*UploadReport, error) {
	if j.breaker == nil {
		return j.uploader.Upload(ctx, events)
	}
	return resilience.Call(ctx, j.breaker, func(ctx context.Context) (*UploadReport, error) {
		return j.uploader.Upload(ctx, events)
	})
}

// fetch reads all deals and contacts concurrently.
func (j *Job) fetch(ctx context.Context) ([]model.Deal, []model.Contact, error) {
	var deals []model.Deal
	var contacts []model.Contact

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		deals, err = fetchAll(gctx, j.cfg.PageSize, j.crm.ListDeals)
		if err != nil {
			return &FetchError{Op: "deals", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		contacts, err = fetchAll(gctx, j.cfg.PageSize, j.crm.ListContacts)
		if err != nil {
			return &FetchError{Op: "contacts", Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return deals, contacts, nil
}

// fetchAll pages through list until a short page.
func fetchAll[T any](ctx context.Context, size int, list func(context.Context, crm.Page) ([]T, error)) ([]T, error) {
	var all []T
	for offset := 0; ; offset += size {
		page, err := list(ctx, crm.Page{Limit: size, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < size {
			return all, nil
		}
	}
}

type dedupKey struct {
	id    string
	stage model.Stage
}

func (j *Job) buildEvents(ctx context.Context, deals []model.Deal, contacts []model.Contact, only *model.Stage) ([]model.ConversionEvent, []model.SkippedRecord) {
	index := make(map[string]model.Contact, len(contacts))
	for _, c := range contacts {
		index[c.ID] = c
	}

	var events []model.ConversionEvent
	var skipped []model.SkippedRecord
	seen := make(map[dedupKey]bool)

	skip := func(d model.Deal, reason string) {
		skipped = append(skipped, model.SkippedRecord{DealID: d.ID, Stage: d.Stage, Reason: reason})
	}

	for _, d := range deals {
		conv, ok := d.Stage.Conversion()
		if !ok || (only != nil && d.Stage != *only) {
			continue
		}

		contactID := d.PrimaryContactID()
		if contactID == "" {
			skip(d, ReasonNoContact)
			continue
		}
		contact, found := index[contactID]
		if !found {
			c, err := j.crm.GetContact(ctx, contactID)
			if err != nil {
				zap.L().Warn("reconcile: contact lookup failed",
					zap.String("deal_id", d.ID),
					zap.String("contact_id", contactID),
					zap.Error(err),
				)
				skip(d, ReasonContactLookup)
				continue
			}
			if c == nil {
				skip(d, ReasonNoContact)
				continue
			}
			contact = *c
			index[contactID] = contact
		}

		email := model.NormalizeEmail(contact.Email)
		phone := NormalizePhone(contact.Phone)
		if email == "" && phone == "" {
			skip(d, ReasonNoIdentifier)
			continue
		}

		key := dedupKey{id: email, stage: d.Stage}
		if email == "" {
			key.id = "phone:" + phone
		}
		if seen[key] {
			continue
		}

		at := d.ConvertedAt()
		if at.IsZero() {
			skip(d, ReasonNoTime)
			continue
		}
		seen[key] = true

		events = append(events, model.ConversionEvent{
			HashedEmail: HashEmail(email),
			HashedPhone: HashPhone(phone),
			Action:      conv.Action,
			Value:       conv.Fraction * j.cfg.BaselineValue,
			Currency:    j.cfg.Currency,
			Time:        at,
			Stage:       d.Stage,
			DealID:      d.ID,
			OrderID:     d.ID + "-" + d.Stage.String(),
		})
	}
	return events, skipped
}

// dropReconciled removes events already marked by an earlier run. Store
// errors are logged and the batch is kept whole.
func (j *Job) dropReconciled(ctx context.Context, events []model.ConversionEvent) ([]model.ConversionEvent, int) {
	if !j.cfg.PersistMarkers || j.store == nil || len(events) == 0 {
		return events, 0
	}

	keys := markerKeys(events)
	if len(keys) == 0 {
		return events, 0
	}
	done, err := j.store.ReconciledKeys(ctx, keys)
	if err != nil {
		zap.L().Warn("reconcile: reading markers failed", zap.Error(err))
		return events, 0
	}

	kept := events[:0:0]
	dropped := 0
	for _, ev := range events {
		if ev.HashedEmail != "" && done[ev.Key()] {
			dropped++
			continue
		}
		kept = append(kept, ev)
	}
	return kept, dropped
}

// persist records the finished run. Failures here are logged; the
// conversions have already been delivered.
func (j *Job) persist(ctx context.Context, log *zap.Logger, runID string, result *model.UploadResult, markable []model.ConversionEvent) {
	if len(result.Skipped) > 0 {
		if err := j.store.RecordSkipped(ctx, runID, result.Skipped); err != nil {
			log.Warn("reconcile: recording skipped deals failed", zap.Error(err))
		}
	}
	if j.cfg.PersistMarkers && len(markable) > 0 {
		if err := j.store.MarkReconciled(ctx, runID, markerKeys(markable)); err != nil {
			log.Warn("reconcile: writing markers failed", zap.Error(err))
		}
	}
	if err := j.store.CompleteRun(ctx, runID, result); err != nil {
		log.Warn("reconcile: completing run failed", zap.Error(err))
	}
}

func (j *Job) fail(ctx context.Context, runID string, cause error) {
	j.metrics.Run("failed")
	if runID == "" {
		return
	}
	if err := j.store.FailRun(ctx, runID, cause); err != nil {
		zap.L().Warn("reconcile: marking run failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func (j *Job) writeRunLog(log *zap.Logger, result *model.UploadResult) {
	if j.cfg.LogDir == "" {
		return
	}
	entry := model.RunLog{
		Timestamp:       j.now().UTC(),
		ConversionCount: len(result.Conversions),
		TotalValue:      result.TotalValue,
		ByType:          result.ByType,
		Result:          "success",
		Mode:            result.Mode,
		Uploaded:        result.Uploaded,
		Failed:          result.Failed,
		Skipped:         len(result.Skipped),
		File:            result.File,
		Error:           result.Error,
	}
	if !result.Success {
		entry.Result = "failed"
	}
	p, err := WriteRunLog(j.cfg.LogDir, entry)
	if err != nil {
		log.Warn("reconcile: writing run log failed", zap.Error(err))
		return
	}
	log.Info("reconcile: run log saved", zap.String("path", p))
}

func markerKeys(events []model.ConversionEvent) []model.ReconciledKey {
	keys := make([]model.ReconciledKey, 0, len(events))
	for _, ev := range events {
		if ev.HashedEmail != "" {
			keys = append(keys, ev.Key())
		}
	}
	return keys
}

func summarize(events []model.ConversionEvent) (map[string]model.TypeSummary, float64) {
	byType := make(map[string]model.TypeSummary)
	total := 0.0
	for _, ev := range events {
		s := byType[ev.Action]
		s.Count++
		s.Value += ev.Value
		byType[ev.Action] = s
		total += ev.Value
	}
	return byType, total
}
