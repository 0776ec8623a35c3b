package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
	"github.com/JakeFAU/kr-car-crawler/internal/store"
)

const runsTimeout = 3 * time.Second

// RunsHandler exposes read-only monitoring endpoints.
type RunsHandler struct {
	repo    store.MonitorRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunsHandler wires the repository and logger.
func NewRunsHandler(repo store.MonitorRepository, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{
		repo:    repo,
		timeout: runsTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?status=. It returns {"runs": [...]} on success,
// 400 for an unknown status filter, 503 when the repo is unavailable, or 500 if
// the repository call fails.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "monitoring repository unavailable")
		return
	}
	var filter store.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = status
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListRuns(ctx)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]store.Run, 0, len(runs))
	for _, run := range runs {
		if filter == "" || run.Status == filter {
			out = append(out, run)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// GetRun handles GET /v1/runs/{source}. It returns {"run": {...}} on success,
// 400 for an unknown source, 404 when the source never ran, or 500 otherwise.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "monitoring repository unavailable")
		return
	}
	src := car.Source(chi.URLParam(r, "source"))
	if !src.Valid() {
		writeError(w, http.StatusBadRequest, "unknown source")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, string(src))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.String("source", string(src)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func parseStatus(input string) (store.RunStatus, error) {
	switch status := store.RunStatus(strings.ToLower(input)); status {
	case store.RunPending, store.RunRunning, store.RunSuccess, store.RunFailure:
		return status, nil
	case "failed", "error":
		return store.RunFailure, nil
	default:
		return "", errors.New("invalid status")
	}
}
