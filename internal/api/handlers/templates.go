package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"reportflow/internal/core"
	"reportflow/internal/types"
)

// TemplateRepo defines the data access contract for report templates.
type TemplateRepo interface {
	Create(ctx context.Context, tpl *types.ReportTemplate) error
	GetByID(ctx context.Context, id string) (*types.ReportTemplate, error)
	ListByUser(ctx context.Context, userID string) ([]types.ReportTemplate, error)
	Update(ctx context.Context, tpl *types.ReportTemplate) error
	SoftDelete(ctx context.Context, id string) error
}

// CreateTemplateRequest is the request body for POST /v1/templates.
type CreateTemplateRequest struct {
	UserID          string `json:"user_id"`
	Description     string `json:"description"`
	DashboardLayout string `json:"dashboard_layout"`
}

// UpdateTemplateRequest is the request body for PUT /v1/templates/{id}.
type UpdateTemplateRequest struct {
	Description     *string `json:"description,omitempty"`
	DashboardLayout *string `json:"dashboard_layout,omitempty"`
}

// TemplateHandler manages report template CRUD.
type TemplateHandler struct {
	templates TemplateRepo
}

// NewTemplateHandler creates a TemplateHandler.
func NewTemplateHandler(templates TemplateRepo) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// RegisterRoutes mounts the template routes on the router.
func (h *TemplateHandler) RegisterRoutes(r chi.Router) {
	r.Route("/templates", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

// Create handles POST /v1/templates.
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.UserID == "" || req.DashboardLayout == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"user_id and dashboard_layout are required", nil))
		return
	}

	tpl := &types.ReportTemplate{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		Description:     req.Description,
		DashboardLayout: req.DashboardLayout,
		Status:          "active",
	}

	if err := h.templates.Create(r.Context(), tpl); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: tpl})
}

// Get handles GET /v1/templates/{id}.
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.templates.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: tpl})
}

// List handles GET /v1/templates?user_id=...
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"user_id query parameter is required", nil))
		return
	}

	templates, err := h.templates.ListByUser(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if templates == nil {
		templates = []types.ReportTemplate{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: templates})
}

// Update handles PUT /v1/templates/{id}. Reports referencing the template
// pick up layout changes at their next generation; nothing is re-enqueued.
func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateTemplateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	tpl, err := h.templates.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Description != nil {
		tpl.Description = *req.Description
	}
	if req.DashboardLayout != nil {
		if *req.DashboardLayout == "" {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"dashboard_layout must not be empty", nil))
			return
		}
		tpl.DashboardLayout = *req.DashboardLayout
	}

	if err := h.templates.Update(r.Context(), tpl); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: tpl})
}

// Delete handles DELETE /v1/templates/{id}.
func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.templates.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
