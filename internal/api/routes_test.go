package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/dao-analytics/internal/clustering"
	"github.com/rawblock/dao-analytics/internal/features"
	"github.com/rawblock/dao-analytics/internal/runner"
	"github.com/rawblock/dao-analytics/pkg/models"
)

type fakeStore struct {
	pingErr    error
	listErr    error
	daoStats   []models.DAOStats
	lastLimit  int
	lastPage   int
	lastFilter string
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ListDAOStats(_ context.Context, protocol string) ([]models.DAOStats, error) {
	f.lastFilter = protocol
	return f.daoStats, f.listErr
}

func (f *fakeStore) ListDAOPercentiles(_ context.Context, protocol, measure string) ([]models.DAOPercentile, error) {
	f.lastFilter = protocol + "/" + measure
	return []models.DAOPercentile{{Protocol: protocol, Measure: measure, Percentile: 10, Value: 1}}, f.listErr
}

func (f *fakeStore) ListProposalStats(_ context.Context, proposalID string, page, limit int) ([]models.ProposalStat, int, error) {
	f.lastFilter, f.lastPage, f.lastLimit = proposalID, page, limit
	return []models.ProposalStat{{ID: 1, ProposalID: proposalID}}, 7, f.listErr
}

func (f *fakeStore) ListClusterData(_ context.Context, page, limit int) ([]models.ClusterAssignment, int, error) {
	f.lastPage, f.lastLimit = page, limit
	return nil, 0, f.listErr
}

func (f *fakeStore) ListParameters(_ context.Context, limit int) ([]models.ParameterRecord, error) {
	f.lastLimit = limit
	return nil, f.listErr
}

type fakeJobs struct {
	err       error
	analytics *runner.AnalyticsOptions
	cluster   *runner.ClusterOptions
	progress  runner.Progress
}

func (f *fakeJobs) StartAnalytics(opts runner.AnalyticsOptions) (string, error) {
	f.analytics = &opts
	return "run-a", f.err
}

func (f *fakeJobs) StartCluster(opts runner.ClusterOptions) (string, error) {
	f.cluster = &opts
	return "run-c", f.err
}

func (f *fakeJobs) GetProgress() runner.Progress { return f.progress }

func newTestRouter(t *testing.T, store Store, jobs *fakeJobs, token string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return SetupRouter(ctx, Deps{
		Store:          store,
		Jobs:           jobs,
		AuthToken:      token,
		RateLimitRPM:   60,
		RateLimitBurst: 2,
		Features:       features.DefaultOptions(),
	})
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	jobs := &fakeJobs{progress: runner.Progress{IsRunning: true}}
	r := newTestRouter(t, &fakeStore{}, jobs, "")

	w := do(r, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["dbConnected"])
	assert.Equal(t, true, body["runActive"])

	r = newTestRouter(t, &fakeStore{pingErr: errors.New("down")}, jobs, "")
	body = decode(t, do(r, http.MethodGet, "/api/v1/health", ""))
	assert.Equal(t, false, body["dbConnected"])
}

func TestReadEndpoints_NoStore(t *testing.T) {
	r := newTestRouter(t, nil, &fakeJobs{}, "")
	w := do(r, http.MethodGet, "/api/v1/dao-stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDAOStats_NaNIsNull(t *testing.T) {
	store := &fakeStore{daoStats: []models.DAOStats{{Protocol: "gov.eth", GiniIndex: math.NaN()}}}
	r := newTestRouter(t, store, &fakeJobs{}, "")

	w := do(r, http.MethodGet, "/api/v1/dao-stats?protocol=gov.eth", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gov.eth", store.lastFilter)
	assert.Contains(t, w.Body.String(), `"giniIndex":null`)
}

func TestDAOPercentiles_Measure(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(t, store, &fakeJobs{}, "")

	w := do(r, http.MethodGet, "/api/v1/dao-percentiles?protocol=gov.eth&measure=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/v1/dao-percentiles?protocol=gov.eth&measure="+models.MeasureVoteCounts, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gov.eth/"+models.MeasureVoteCounts, store.lastFilter)
}

func TestProposalStats_Pagination(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(t, store, &fakeJobs{}, "")

	w := do(r, http.MethodGet, "/api/v1/proposal-stats?proposal=p1&page=3&limit=20", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p1", store.lastFilter)
	assert.Equal(t, 3, store.lastPage)
	assert.Equal(t, 20, store.lastLimit)
	assert.Equal(t, float64(7), decode(t, w)["totalCount"])
}

func TestReadEndpoints_StoreError(t *testing.T) {
	r := newTestRouter(t, &fakeStore{listErr: errors.New("boom")}, &fakeJobs{}, "")
	for _, path := range []string{"/api/v1/dao-stats", "/api/v1/clusters", "/api/v1/parameters"} {
		w := do(r, http.MethodGet, path, "")
		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
	}
}

func TestStartAnalytics(t *testing.T) {
	jobs := &fakeJobs{}
	r := newTestRouter(t, &fakeStore{}, jobs, "")

	w := do(r, http.MethodPost, "/api/v1/runs/analytics", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "run-a", decode(t, w)["runId"])
	require.NotNil(t, jobs.analytics)
	assert.True(t, jobs.analytics.DAO)
	assert.True(t, jobs.analytics.Proposals)

	w = do(r, http.MethodPost, "/api/v1/runs/analytics", `{"dao":false,"proposals":false}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartCluster(t *testing.T) {
	jobs := &fakeJobs{}
	r := newTestRouter(t, &fakeStore{}, jobs, "")

	w := do(r, http.MethodPost, "/api/v1/runs/cluster", `{"algorithm":"hierarchical","criterion":"davies-bouldin","daoId":"gov.eth"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.NotNil(t, jobs.cluster)
	assert.Equal(t, clustering.Hierarchical, jobs.cluster.Request.Family)
	assert.Equal(t, clustering.DaviesBouldin, jobs.cluster.Request.Criterion)
	assert.Equal(t, "gov.eth", jobs.cluster.Features.Scope.DAOID)

	w = do(r, http.MethodPost, "/api/v1/runs/cluster", `{"algorithm":"som"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartRun_Busy(t *testing.T) {
	jobs := &fakeJobs{err: runner.ErrBusy, progress: runner.Progress{IsRunning: true, RunID: "other"}}
	r := newTestRouter(t, &fakeStore{}, jobs, "")

	w := do(r, http.MethodPost, "/api/v1/runs/analytics", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRunTriggers_Auth(t *testing.T) {
	r := newTestRouter(t, &fakeStore{}, &fakeJobs{}, "secret")

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/api/v1/runs/analytics", "").Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/api/v1/runs/analytics", "", "Authorization", "Token secret").Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/api/v1/runs/analytics", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/v1/runs/analytics", "", "Authorization", "Bearer secret").Code)

	// reads stay public
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/runs/progress", "").Code)
}

func TestRunTriggers_RateLimited(t *testing.T) {
	r := newTestRouter(t, &fakeStore{}, &fakeJobs{}, "")

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/v1/runs/analytics", "").Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/v1/runs/analytics", "").Code)
	w := do(r, http.MethodPost, "/api/v1/runs/analytics", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(context.Background(), Deps{
		Store:          &fakeStore{},
		Jobs:           &fakeJobs{},
		AllowedOrigins: []string{"https://dash.example"},
		RateLimitRPM:   60,
		RateLimitBurst: 1,
	})

	w := do(r, http.MethodOptions, "/api/v1/dao-stats", "", "Origin", "https://dash.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dash.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(r, http.MethodGet, "/api/v1/health", "", "Origin", "https://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t, &fakeStore{}, &fakeJobs{}, "")
	w := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOriginAllowed(t *testing.T) {
	assert.Equal(t, "*", originAllowed(nil, "https://a"))
	assert.Equal(t, "*", originAllowed([]string{"https://a", "*"}, "https://b"))
	assert.Equal(t, "https://a", originAllowed([]string{"https://a"}, "https://a"))
	assert.Equal(t, "", originAllowed([]string{"https://a"}, "https://b"))
	assert.Equal(t, "", originAllowed([]string{"https://a"}, ""))
}
