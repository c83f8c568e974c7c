package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/snarg/caption-engine/internal/pipeline"
)

// Inbound headers of the captioning trigger.
const (
	HeaderResource      = "Apix-Ldp-Resource"
	HeaderDestination   = "X-Islandora-Destination"
	HeaderAuthorization = "Authorization"
)

// Runner executes one captioning request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Outcome
}

// TranscribeHandler serves GET / and GET /transcribe.
type TranscribeHandler struct {
	runner Runner
}

func NewTranscribeHandler(runner Runner) *TranscribeHandler {
	return &TranscribeHandler{runner: runner}
}

func (h *TranscribeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(r.Header.Get(HeaderResource))
	if ref == "" {
		WriteText(w, http.StatusBadRequest, "missing "+HeaderResource+" header")
		return
	}

	// Runs outlive a disconnected caller. RUN_TIMEOUT still bounds them.
	out := h.runner.Run(context.WithoutCancel(r.Context()), pipeline.Request{
		Reference:     ref,
		Destination:   strings.TrimSpace(r.Header.Get(HeaderDestination)),
		Authorization: r.Header.Get(HeaderAuthorization),
	})

	if out.RunID != "" {
		w.Header().Set("X-Run-ID", out.RunID)
	}
	if out.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else if !out.Failed() {
		w.Header().Set("X-Cache", "MISS")
	}
	ct := out.ContentType
	if ct == "" {
		ct = "text/plain"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(out.Status)
	w.Write(out.Body)
}
