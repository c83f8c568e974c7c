package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/caption-engine/internal/database"
	"github.com/snarg/caption-engine/internal/identity"
)

// RunLister reads the run ledger.
type RunLister interface {
	ListRuns(ctx context.Context, filter database.RunFilter) ([]database.Run, int, error)
}

type RunsHandler struct {
	runs RunLister
}

func NewRunsHandler(runs RunLister) *RunsHandler {
	return &RunsHandler{runs: runs}
}

func (h *RunsHandler) Routes(r chi.Router) {
	r.Get("/runs", h.ListRuns)
}

// ListRuns returns ledger rows newest first, filtered by digest and since.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r, 50, 1000)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := database.RunFilter{Limit: limit}

	if d, ok := QueryString(r, "digest"); ok {
		if !identity.ValidDigest(d) {
			WriteError(w, http.StatusBadRequest, "invalid digest")
			return
		}
		filter.Digest = d
	}
	since, ok, err := QueryTime(r, "since")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ok {
		filter.Since = &since
	}

	runs, total, err := h.runs.ListRuns(r.Context(), filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []database.Run{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": total,
	})
}
