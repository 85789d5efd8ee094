package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Probe verifies backing-store connectivity as part of health checks.
type Probe func(ctx context.Context) error

// FeeGapSource reports how many platform-fee transfers are outstanding.
type FeeGapSource interface {
	FeeGaps() uint64
}

// HealthHandler answers readiness probes and surfaces the fee-gap counter.
type HealthHandler struct {
	Logger  *slog.Logger
	Probe   Probe
	FeeGaps FeeGapSource
}

func (h *HealthHandler) handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	payload := map[string]any{
		"status": "ok",
	}

	if h.Probe != nil {
		if err := h.Probe(ctx); err != nil {
			h.Logger.Error("health probe failed", "error", err)
			status = http.StatusServiceUnavailable
			payload["status"] = "degraded"
			payload["error"] = err.Error()
		}
	}

	if h.FeeGaps != nil {
		payload["fee_gaps"] = h.FeeGaps.FeeGaps()
	}

	respondJSON(w, status, payload)
}
