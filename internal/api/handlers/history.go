package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"reportflow/internal/core"
	"reportflow/internal/types"
)

// HistoryRepo defines the data access contract for delivery history.
type HistoryRepo interface {
	GetByUID(ctx context.Context, uid string) (*types.DeliveryHistory, error)
	Query(ctx context.Context, f types.HistoryFilter, page, limit int) ([]types.DeliveryHistory, types.Pagination, error)
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// HistoryHandler serves delivery history queries.
type HistoryHandler struct {
	history HistoryRepo
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(history HistoryRepo) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// RegisterRoutes mounts the history routes on the router.
func (h *HistoryHandler) RegisterRoutes(r chi.Router) {
	r.Route("/history", func(r chi.Router) {
		r.Get("/", h.Query)
		r.Get("/{uid}", h.Get)
	})
}

// parsePagination reads page and limit query parameters, applying defaults
// and bounds. page is 1-based.
func parsePagination(r *http.Request) (page, limit int, err error) {
	page, limit = 1, defaultHistoryLimit

	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, types.NewAppError(types.ErrCodeValidationInvalidPage,
				"page must be a positive integer", err)
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxHistoryLimit {
			return 0, 0, types.NewAppError(types.ErrCodeValidationInvalidPage,
				"limit must be between 1 and 100", err)
		}
	}
	return page, limit, nil
}

// Query handles GET /v1/history with optional filters. Every filter is a
// query parameter; unknown statuses return an empty page rather than an
// error, matching exact-match semantics.
func (h *HistoryHandler) Query(w http.ResponseWriter, r *http.Request) {
	page, limit, err := parsePagination(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := types.HistoryFilter{
		UID:          q.Get("uid"),
		ReportID:     q.Get("report_id"),
		UserID:       q.Get("user_id"),
		Recipients:   q.Get("recipients"),
		ArtifactUID:  q.Get("artifact_uid"),
		Status:       q.Get("status"),
		ErrorMessage: q.Get("error_message"),
	}
	if raw := q.Get("attempt"); raw != "" {
		attempt, err := strconv.Atoi(raw)
		if err != nil || attempt < 1 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPage,
				"attempt must be a positive integer", err))
			return
		}
		filter.Attempt = attempt
	}

	items, pagination, err := h.history.Query(r.Context(), filter, page, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if items == nil {
		items = []types.DeliveryHistory{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: items, Pagination: &pagination})
}

// Get handles GET /v1/history/{uid}.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	row, err := h.history.GetByUID(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: row})
}
