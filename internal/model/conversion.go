package model

import "time"

// ConversionTimeLayout is the timestamp layout accepted by the ad platform.
const ConversionTimeLayout = "2006-01-02 15:04:05-07:00"

// ConversionEvent is a privacy-preserving conversion ready for upload. It
// never carries raw personal data.
type ConversionEvent struct {
	HashedEmail string    `json:"hashed_email,omitempty"`
	HashedPhone string    `json:"hashed_phone,omitempty"`
	Action      string    `json:"action"`
	Value       float64   `json:"value"`
	Currency    string    `json:"currency"`
	Time        time.Time `json:"time"`
	Stage       Stage     `json:"stage"`
	DealID      string    `json:"deal_id"`
	OrderID     string    `json:"order_id"`
}

// FormattedTime renders the conversion time in UTC using ConversionTimeLayout.
func (e ConversionEvent) FormattedTime() string {
	return e.Time.UTC().Format(ConversionTimeLayout)
}

// ReconciledKey identifies a (contact, stage) pair. The contact is identified
// by its hashed e-mail so that markers never store raw addresses.
type ReconciledKey struct {
	HashedEmail string `json:"hashed_email"`
	Stage       Stage  `json:"stage"`
}

// Key returns the key of the event.
func (e ConversionEvent) Key() ReconciledKey {
	return ReconciledKey{HashedEmail: e.HashedEmail, Stage: e.Stage}
}

// UploadMode records which path delivered a batch.
type UploadMode string

const (
	UploadModeAPI          UploadMode = "api"
	UploadModeManualUpload UploadMode = "manual_upload"
	// UploadModeMixed is a batch split between the API and a manual-upload
	// export.
	UploadModeMixed        UploadMode = "mixed"
	UploadModeDryRun       UploadMode = "dry_run"
	UploadModeNone         UploadMode = "none"
)

// TypeSummary aggregates conversions of one action.
type TypeSummary struct {
	Count int     `json:"count"`
	Value float64 `json:"value"`
}

// SkippedRecord is a deal that could not be turned into a conversion.
type SkippedRecord struct {
	DealID string `json:"deal_id"`
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

// UploadResult is the outcome of a reconciliation run.
type UploadResult struct {
	RunID       string                 `json:"run_id,omitempty"`
	Mode        UploadMode             `json:"mode"`
	Success     bool                   `json:"success"`
	Conversions []ConversionEvent      `json:"conversions"`
	ByType      map[string]TypeSummary `json:"by_type"`
	TotalValue  float64                `json:"total_value"`
	Uploaded    int                    `json:"uploaded"`
	Failed      int                    `json:"failed"`
	Skipped     []SkippedRecord        `json:"skipped,omitempty"`
	AlreadySent int                    `json:"already_sent"`
	File        string                 `json:"file,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// RunLog is the audit entry written for each reconciliation run.
type RunLog struct {
	Timestamp       time.Time              `json:"timestamp"`
	ConversionCount int                    `json:"conversionCount"`
	TotalValue      float64                `json:"totalValue"`
	ByType          map[string]TypeSummary `json:"byType"`
	// DryRun keeps the log format readable by existing tooling. Dry runs
	// write no log, so it is always false.
	DryRun          bool                   `json:"dryRun"`
	Result          string                 `json:"result"`
	Mode            UploadMode             `json:"mode"`
	Uploaded        int                    `json:"uploaded"`
	Failed          int                    `json:"failed"`
	Skipped         int                    `json:"skipped"`
	File            string                 `json:"file,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// RunStatus is the lifecycle state of a persisted reconciliation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is a persisted reconciliation run.
type Run struct {
	ID        string        `json:"id"`
	Status    RunStatus     `json:"status"`
	DryRun    bool          `json:"dry_run"`
	Stage     string        `json:"stage,omitempty"`
	Result    *UploadResult `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
