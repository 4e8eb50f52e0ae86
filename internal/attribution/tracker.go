package attribution

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/lock"
	"github.com/sells-group/leadsync/internal/metrics"
	"github.com/sells-group/leadsync/internal/model"
)

// Tracker maintains attribution snapshots. First-touch is written once per
// session; last-touch is overwritten on every touch.
type Tracker struct {
	store   SessionStore
	locker  lock.Locker
	metrics *metrics.Metrics
}

// NewTracker creates a Tracker. locker serializes touches of one session and
// m may be nil.
func NewTracker(store SessionStore, locker lock.Locker, m *metrics.Metrics) *Tracker {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	return &Tracker{store: store, locker: locker, metrics: m}
}

// RecordTouch records one page view for sessionID.
func (t *Tracker) RecordTouch(ctx context.Context, sessionID string, p TouchParams) error {
	if sessionID == "" {
		return eris.New("attribution: empty session id")
	}

	release, err := t.locker.Lock(ctx, "session:"+sessionID)
	if err != nil {
		return eris.Wrap(err, "attribution: lock session")
	}
	defer release()

	snap, found, err := t.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if !found {
		snap.FirstTouch = p.Touch
		snap.LandingPage = p.Page
		snap.Referrer = p.Referrer
		snap.FirstVisit = p.Touch.Timestamp
	}
	snap.LastTouch = p.Touch
	snap.CurrentPage = p.Page
	if p.PlatformClientID != "" {
		snap.PlatformClientID = p.PlatformClientID
	}

	if err := t.store.Put(ctx, sessionID, snap); err != nil {
		return err
	}

	t.metrics.Touch(!found)
	zap.L().Debug("attribution: touch recorded",
		zap.String("session", sessionID),
		zap.Bool("first", !found),
		zap.String("source", p.Touch.Source),
		zap.String("medium", p.Touch.Medium),
	)
	return nil
}

// Snapshot returns the session's snapshot with direct/none/organic filled in
// wherever no campaign tag was observed. Unknown sessions yield a fully
// defaulted snapshot.
func (t *Tracker) Snapshot(ctx context.Context, sessionID string) (model.AttributionSnapshot, error) {
	var snap model.AttributionSnapshot
	if sessionID != "" {
		s, _, err := t.store.Get(ctx, sessionID)
		if err != nil {
			return snap, err
		}
		snap = s
	}
	snap.FirstTouch = snap.FirstTouch.WithDefaults()
	snap.LastTouch = snap.LastTouch.WithDefaults()
	return snap, nil
}
