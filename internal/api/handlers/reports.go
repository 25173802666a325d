// Package handlers contains the HTTP handler implementations for the
// reportflow API: scheduled report CRUD, template CRUD, and delivery
// history queries. Handlers depend on locally defined interfaces so tests
// can inject fakes without touching the concrete repositories.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"reportflow/internal/core"
	"reportflow/internal/jobstore"
	"reportflow/internal/types"
)

// ReportRepo defines the data access contract for scheduled reports.
type ReportRepo interface {
	Create(ctx context.Context, rep *types.ScheduledReport) error
	GetByID(ctx context.Context, id string) (*types.ScheduledReport, error)
	ListByUser(ctx context.Context, userID string) ([]types.ScheduledReport, error)
	Update(ctx context.Context, rep *types.ScheduledReport) error
	SoftDelete(ctx context.Context, id string) error
}

// ReportTemplateGetter validates that a referenced template exists.
type ReportTemplateGetter interface {
	GetByID(ctx context.Context, id string) (*types.ReportTemplate, error)
}

// ReportScheduler registers or cancels the jobs backing a report.
type ReportScheduler interface {
	Schedule(ctx context.Context, rep *types.ScheduledReport) error
	Unschedule(ctx context.Context, reportID string) error
	QueueMetrics(ctx context.Context) (generation, delivery types.QueueCounts, err error)
}

// --- Request Models ---

// CreateReportRequest is the request body for POST /v1/reports.
type CreateReportRequest struct {
	TemplateID      string `json:"template_id"`
	CronExpr        string `json:"cron_expr"`
	Timezone        string `json:"timezone"`
	LeadTimeMinutes int    `json:"lead_time_minutes"`
	Title           string `json:"title"`
	Recipients      string `json:"recipients"`
	UserID          string `json:"user_id"`
}

// UpdateReportRequest is the request body for PUT /v1/reports/{id}. Nil
// fields keep their current value.
type UpdateReportRequest struct {
	TemplateID      *string `json:"template_id,omitempty"`
	CronExpr        *string `json:"cron_expr,omitempty"`
	Timezone        *string `json:"timezone,omitempty"`
	LeadTimeMinutes *int    `json:"lead_time_minutes,omitempty"`
	Title           *string `json:"title,omitempty"`
	Recipients      *string `json:"recipients,omitempty"`
	Status          *string `json:"status,omitempty"`
}

// --- Handler ---

// ReportHandler manages scheduled report CRUD. Every write that touches the
// schedule pushes the change into the job store in the same request, so the
// store never lags the database by more than a failed call (which fails the
// request).
type ReportHandler struct {
	reports   ReportRepo
	templates ReportTemplateGetter
	scheduler ReportScheduler
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(reports ReportRepo, templates ReportTemplateGetter, scheduler ReportScheduler) *ReportHandler {
	return &ReportHandler{
		reports:   reports,
		templates: templates,
		scheduler: scheduler,
	}
}

// RegisterRoutes mounts the report routes on the router.
func (h *ReportHandler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
	r.Get("/queues", h.QueueMetrics)
}

// validateSchedule checks the cron expression and timezone pair.
func validateSchedule(cronExpr, timezone string) error {
	if _, err := jobstore.ParseCron(cronExpr); err != nil {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidCron,
			"invalid cron expression", err, map[string]any{"cron_expr": cronExpr})
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidTZ,
				"unknown timezone", err, map[string]any{"timezone": timezone})
		}
	}
	return nil
}

// Create handles POST /v1/reports.
func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.TemplateID == "" || req.CronExpr == "" || req.Title == "" || req.UserID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"template_id, cron_expr, title and user_id are required", nil))
		return
	}
	if err := validateSchedule(req.CronExpr, req.Timezone); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := types.ValidateRecipients(req.Recipients); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.LeadTimeMinutes < 0 {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"lead_time_minutes must not be negative", nil))
		return
	}

	if _, err := h.templates.GetByID(r.Context(), req.TemplateID); err != nil {
		core.Error(w, r, err)
		return
	}

	rep := &types.ScheduledReport{
		ID:              uuid.New().String(),
		TemplateID:      req.TemplateID,
		CronExpr:        req.CronExpr,
		Timezone:        req.Timezone,
		LeadTimeMinutes: req.LeadTimeMinutes,
		Title:           req.Title,
		Recipients:      req.Recipients,
		UserID:          req.UserID,
		Status:          types.ReportStatusActive,
	}

	if err := h.reports.Create(r.Context(), rep); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.scheduler.Schedule(r.Context(), rep); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: rep})
}

// Get handles GET /v1/reports/{id}.
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rep})
}

// List handles GET /v1/reports?user_id=...
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"user_id query parameter is required", nil))
		return
	}

	reports, err := h.reports.ListByUser(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if reports == nil {
		reports = []types.ScheduledReport{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: reports})
}

// Update handles PUT /v1/reports/{id}. Schedule-affecting changes replace
// the report's jobs; a status change to inactive cancels them.
func (h *ReportHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateReportRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	rep, err := h.reports.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.TemplateID != nil {
		if _, err := h.templates.GetByID(r.Context(), *req.TemplateID); err != nil {
			core.Error(w, r, err)
			return
		}
		rep.TemplateID = *req.TemplateID
	}
	if req.CronExpr != nil {
		rep.CronExpr = *req.CronExpr
	}
	if req.Timezone != nil {
		rep.Timezone = *req.Timezone
	}
	if req.LeadTimeMinutes != nil {
		if *req.LeadTimeMinutes < 0 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"lead_time_minutes must not be negative", nil))
			return
		}
		rep.LeadTimeMinutes = *req.LeadTimeMinutes
	}
	if req.Title != nil {
		rep.Title = *req.Title
	}
	if req.Recipients != nil {
		if err := types.ValidateRecipients(*req.Recipients); err != nil {
			core.Error(w, r, err)
			return
		}
		rep.Recipients = *req.Recipients
	}
	if req.Status != nil {
		switch types.ReportStatus(*req.Status) {
		case types.ReportStatusActive, types.ReportStatusInactive:
			rep.Status = types.ReportStatus(*req.Status)
		default:
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"status must be active or inactive", nil))
			return
		}
	}

	if err := validateSchedule(rep.CronExpr, rep.Timezone); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.reports.Update(r.Context(), rep); err != nil {
		core.Error(w, r, err)
		return
	}

	if rep.Status == types.ReportStatusActive {
		err = h.scheduler.Schedule(r.Context(), rep)
	} else {
		err = h.scheduler.Unschedule(r.Context(), rep.ID)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rep})
}

// Delete handles DELETE /v1/reports/{id}. The row is soft-deleted and both
// jobs are canceled; history rows for the report are untouched.
func (h *ReportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.reports.SoftDelete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.scheduler.Unschedule(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// QueueMetrics handles GET /v1/queues.
func (h *ReportHandler) QueueMetrics(w http.ResponseWriter, r *http.Request) {
	generation, delivery, err := h.scheduler.QueueMetrics(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]types.QueueCounts{
		jobstore.QueueGeneration: generation,
		jobstore.QueueDelivery:   delivery,
	}})
}
