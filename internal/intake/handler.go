package intake

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/model"
)

// maxBodyBytes bounds a submission body.
const maxBodyBytes = 64 << 10

// SnapshotFunc returns the attribution snapshot for the request's session,
// if any.
type SnapshotFunc func(r *http.Request) (model.AttributionSnapshot, bool)

// Handler is the HTTP adapter for Service.
type Handler struct {
	svc      *Service
	snapshot SnapshotFunc
}

// NewHandler creates a Handler. snapshot may be nil.
func NewHandler(svc *Service, snapshot SnapshotFunc) *Handler {
	return &Handler{svc: svc, snapshot: snapshot}
}

// ServeHTTP handles POST /api/v3/push-enhanced-lead.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var sub model.LeadSubmission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&sub); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if h.snapshot != nil {
		if snap, ok := h.snapshot(r); ok {
			sub.ApplySnapshot(snap)
		}
	}

	res, err := h.svc.Submit(r.Context(), sub)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Message)
			return
		}
		zap.L().Error("intake: submission failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
