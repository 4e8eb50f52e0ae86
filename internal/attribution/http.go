package attribution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/model"
)

type ctxKey struct{}

// SessionID returns the session id placed on ctx by Middleware.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// HTTPOptions configures the HTTP surface.
type HTTPOptions struct {
	CookieName string
	CookieTTL  time.Duration
	SelfHosts  []string
	// RecordPageViews records a touch for every GET passing through the
	// middleware. Disable it for API-only routes.
	RecordPageViews bool
}

// HTTP binds a Tracker to http handlers.
type HTTP struct {
	tracker *Tracker
	opts    HTTPOptions
	now     func() time.Time
}

// NewHTTP creates the HTTP adapter.
func NewHTTP(t *Tracker, opts HTTPOptions) *HTTP {
	if opts.CookieName == "" {
		opts.CookieName = "leadsync_sid"
	}
	return &HTTP{tracker: t, opts: opts, now: time.Now}
}

// Middleware assigns a session cookie and, when enabled, records a touch for
// each page view.
func (h *HTTP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(h.opts.CookieName); err == nil {
			if _, perr := uuid.Parse(c.Value); perr == nil {
				id = c.Value
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		http.SetCookie(w, &http.Cookie{
			Name:     h.opts.CookieName,
			Value:    id,
			Path:     "/",
			MaxAge:   int(h.opts.CookieTTL.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   r.TLS != nil,
		})

		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		r = r.WithContext(ctx)

		if h.opts.RecordPageViews && r.Method == http.MethodGet {
			p := TouchFromRequest(r, h.opts.SelfHosts, h.now())
			if err := h.tracker.RecordTouch(ctx, id, p); err != nil {
				zap.L().Warn("attribution: record page view", zap.Error(err))
			}
		}

		next.ServeHTTP(w, r)
	})
}

// touchRequest is posted by the site's tag on each page view.
type touchRequest struct {
	URL      string `json:"url"`
	Referrer string `json:"referrer"`
}

// RecordHandler handles POST /api/attribution/touch.
func (h *HTTP) RecordHandler(w http.ResponseWriter, r *http.Request) {
	var req touchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	page, err := url.Parse(req.URL)
	if err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}

	p := ParseTouch(page, req.Referrer, h.opts.SelfHosts, h.now())
	if c, err := r.Cookie("_ga"); err == nil {
		p.PlatformClientID = ParseGAClientID(c.Value)
	}
	if err := h.tracker.RecordTouch(r.Context(), SessionID(r.Context()), p); err != nil {
		zap.L().Error("attribution: record touch", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SnapshotHandler handles GET /api/attribution.
func (h *HTTP) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := h.tracker.Snapshot(r.Context(), SessionID(r.Context()))
	if err != nil {
		zap.L().Error("attribution: snapshot", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(snap)
}

// Lookup returns the stored snapshot of the request's session. ok is false
// when the session has no recorded touches or the store cannot be read.
func (h *HTTP) Lookup(r *http.Request) (model.AttributionSnapshot, bool) {
	id := SessionID(r.Context())
	if id == "" {
		return model.AttributionSnapshot{}, false
	}
	snap, found, err := h.tracker.store.Get(r.Context(), id)
	if err != nil {
		zap.L().Warn("attribution: snapshot lookup", zap.Error(err))
		return model.AttributionSnapshot{}, false
	}
	return snap, found
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
