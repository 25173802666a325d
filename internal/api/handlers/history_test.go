package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportflow/internal/types"
)

type fakeHistoryRepo struct {
	rows       []types.DeliveryHistory
	lastFilter types.HistoryFilter
	lastPage   int
	lastLimit  int
}

func (f *fakeHistoryRepo) GetByUID(_ context.Context, uid string) (*types.DeliveryHistory, error) {
	for i := range f.rows {
		if f.rows[i].UID == uid {
			return &f.rows[i], nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundHistory, "history row not found", nil)
}

func (f *fakeHistoryRepo) Query(_ context.Context, filter types.HistoryFilter, page, limit int) ([]types.DeliveryHistory, types.Pagination, error) {
	f.lastFilter = filter
	f.lastPage = page
	f.lastLimit = limit
	return f.rows, types.Pagination{Page: page, Limit: limit, Total: len(f.rows), TotalPages: 1}, nil
}

func newHistoryRouter(repo *fakeHistoryRepo) *chi.Mux {
	h := NewHistoryHandler(repo)
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return r
}

func TestHistoryQuery_Defaults(t *testing.T) {
	repo := &fakeHistoryRepo{rows: []types.DeliveryHistory{{UID: "hist_1"}}}
	router := newHistoryRouter(repo)

	rec := doJSON(t, router, http.MethodGet, "/v1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, repo.lastPage)
	assert.Equal(t, defaultHistoryLimit, repo.lastLimit)

	var resp struct {
		Data       []types.DeliveryHistory `json:"data"`
		Pagination *types.Pagination       `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.NotNil(t, resp.Pagination)
	assert.Equal(t, 1, resp.Pagination.Total)
}

func TestHistoryQuery_Filters(t *testing.T) {
	repo := &fakeHistoryRepo{}
	router := newHistoryRouter(repo)

	rec := doJSON(t, router, http.MethodGet,
		"/v1/history?report_id=rep_1&status=failed&attempt=3&recipients=example.com&page=2&limit=50", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "rep_1", repo.lastFilter.ReportID)
	assert.Equal(t, "failed", repo.lastFilter.Status)
	assert.Equal(t, 3, repo.lastFilter.Attempt)
	assert.Equal(t, "example.com", repo.lastFilter.Recipients)
	assert.Equal(t, 2, repo.lastPage)
	assert.Equal(t, 50, repo.lastLimit)
}

func TestHistoryQuery_InvalidPagination(t *testing.T) {
	router := newHistoryRouter(&fakeHistoryRepo{})

	for _, path := range []string{
		"/v1/history?page=0",
		"/v1/history?page=abc",
		"/v1/history?limit=0",
		"/v1/history?limit=1000",
		"/v1/history?attempt=-1",
	} {
		rec := doJSON(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestHistoryGet_ByUID(t *testing.T) {
	repo := &fakeHistoryRepo{rows: []types.DeliveryHistory{
		{UID: "hist_1", ReportID: "rep_1", Status: types.DeliveryStatusSuccess},
	}}
	router := newHistoryRouter(repo)

	rec := doJSON(t, router, http.MethodGet, "/v1/history/hist_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/history/hist_missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryQuery_EmptyResultIsArray(t *testing.T) {
	router := newHistoryRouter(&fakeHistoryRepo{})

	rec := doJSON(t, router, http.MethodGet, "/v1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}
