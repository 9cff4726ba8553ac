// Package handlers contains the HTTP handler implementations for the Pulse
// admin API: job inspection and manual aggregation triggers. All routes in
// this package are mounted under /admin behind the API key middleware.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pulse/internal/core"
	"pulse/internal/scheduler"
	"pulse/internal/types"
)

// JobScheduler defines the scheduler operations the handler depends on.
// Mirrors the concrete *scheduler.Scheduler methods used here; defined
// locally for testability.
type JobScheduler interface {
	ListJobs() []scheduler.JobSnapshot
	RunNow(ctx context.Context, tenantID string, periods []types.PeriodType) ([]scheduler.TriggerResult, error)
	Enabled() bool
}

// JobsHandler serves the /admin/jobs routes.
type JobsHandler struct {
	scheduler JobScheduler
	validator *core.Validator
	logger    *slog.Logger
}

// NewJobsHandler creates a JobsHandler with the given dependencies.
func NewJobsHandler(sched JobScheduler, validator *core.Validator, logger *slog.Logger) *JobsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobsHandler{
		scheduler: sched,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the job routes on the given (admin) router.
func (h *JobsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/run", h.RunNow)
	})
}

// --- Request/Response Models ---

// JobsResponse is the body of GET /admin/jobs.
type JobsResponse struct {
	SchedulerEnabled bool                    `json:"scheduler_enabled"`
	Jobs             []scheduler.JobSnapshot `json:"jobs"`
}

// RunJobsRequest is the request body for POST /admin/jobs/run. Both fields
// are optional: an empty tenant ID triggers every registered job, an empty
// period list uses each job's configured granularities.
type RunJobsRequest struct {
	TenantID string   `json:"tenant_id,omitempty"`
	Periods  []string `json:"periods,omitempty" validate:"omitempty,dive,oneof=daily weekly monthly quarterly yearly"`
}

// RunJobsResponse is the body of POST /admin/jobs/run.
type RunJobsResponse struct {
	Results []scheduler.TriggerResult `json:"results"`
}

// List returns a snapshot of every registered job.
//
// GET /admin/jobs
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.ListJobs()
	if jobs == nil {
		jobs = []scheduler.JobSnapshot{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: JobsResponse{
			SchedulerEnabled: h.scheduler.Enabled(),
			Jobs:             jobs,
		},
	})
}

// RunNow triggers an aggregation pass outside the scheduled cadence. The
// pass runs synchronously; the response reports the per-period outcomes.
// Manual triggers never shift the jobs' scheduled next-run times.
//
// POST /admin/jobs/run
func (h *JobsHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	var req RunJobsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	periods := make([]types.PeriodType, 0, len(req.Periods))
	for _, p := range req.Periods {
		periods = append(periods, types.PeriodType(p))
	}

	h.logger.InfoContext(r.Context(), "manual aggregation trigger received",
		"tenant_id", req.TenantID,
		"periods", req.Periods,
	)

	results, err := h.scheduler.RunNow(r.Context(), req.TenantID, periods)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if results == nil {
		results = []scheduler.TriggerResult{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: RunJobsResponse{Results: results},
	})
}
