package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rawblock/dao-analytics/internal/features"
	"github.com/rawblock/dao-analytics/internal/runner"
	"github.com/rawblock/dao-analytics/pkg/models"
)

// Store serves the persisted output tables.
type Store interface {
	Ping(ctx context.Context) error
	ListDAOStats(ctx context.Context, protocol string) ([]models.DAOStats, error)
	ListDAOPercentiles(ctx context.Context, protocol, measure string) ([]models.DAOPercentile, error)
	ListProposalStats(ctx context.Context, proposalID string, page, limit int) ([]models.ProposalStat, int, error)
	ListClusterData(ctx context.Context, page, limit int) ([]models.ClusterAssignment, int, error)
	ListParameters(ctx context.Context, limit int) ([]models.ParameterRecord, error)
}

// Jobs starts background runs and reports their progress.
type Jobs interface {
	StartAnalytics(opts runner.AnalyticsOptions) (string, error)
	StartCluster(opts runner.ClusterOptions) (string, error)
	GetProgress() runner.Progress
}

// Deps wires the router.
type Deps struct {
	Store  Store
	Jobs   Jobs
	Hub    *Hub
	Logger *zerolog.Logger

	AllowedOrigins []string
	AuthToken      string
	Release        bool
	RateLimitRPM   int
	RateLimitBurst int

	// Defaults applied to run requests.
	Features features.Options
	Strict   bool
}

type APIHandler struct {
	store    Store
	jobs     Jobs
	logger   *zerolog.Logger
	features features.Options
	strict   bool
}

// SetupRouter builds the HTTP surface. The rate limiter's sweeper stops
// with ctx.
func SetupRouter(ctx context.Context, deps Deps) *gin.Engine {
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Logger))

	r.Use(func(c *gin.Context) {
		if allow := originAllowed(deps.AllowedOrigins, c.Request.Header.Get("Origin")); allow != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", allow)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		store:    deps.Store,
		jobs:     deps.Jobs,
		logger:   deps.Logger,
		features: deps.Features,
		strict:   deps.Strict,
	}
	limiter := NewRateLimiter(ctx, deps.RateLimitRPM, deps.RateLimitBurst)

	api := r.Group("/api/v1")
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/dao-stats", handler.handleDAOStats)
		api.GET("/dao-percentiles", handler.handleDAOPercentiles)
		api.GET("/proposal-stats", handler.handleProposalStats)
		api.GET("/clusters", handler.handleClusters)
		api.GET("/parameters", handler.handleParameters)
		api.GET("/runs/progress", handler.handleRunProgress)
		if deps.Hub != nil {
			api.GET("/stream", deps.Hub.Subscribe)
		}

		runs := api.Group("/runs", AuthMiddleware(deps.AuthToken, deps.Release, deps.Logger), limiter.Middleware())
		runs.POST("/analytics", handler.handleStartAnalytics)
		runs.POST("/cluster", handler.handleStartCluster)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func requestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}

// handleHealth reports engine status and database reachability.
func (h *APIHandler) handleHealth(c *gin.Context) {
	dbConnected := h.store != nil && h.store.Ping(c.Request.Context()) == nil
	progress := h.jobs.GetProgress()

	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"engine":      "DAO Analytics Engine",
		"dbConnected": dbConnected,
		"runActive":   progress.IsRunning,
	})
}

func (h *APIHandler) requireStore(c *gin.Context) bool {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return false
	}
	return true
}

func (h *APIHandler) fail(c *gin.Context, msg string, err error) {
	h.logger.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "details": err.Error()})
}

func (h *APIHandler) handleDAOStats(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	stats, err := h.store.ListDAOStats(c.Request.Context(), c.Query("protocol"))
	if err != nil {
		h.fail(c, "Failed to fetch DAO stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats, "totalCount": len(stats)})
}

func (h *APIHandler) handleDAOPercentiles(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	measure := c.Query("measure")
	if measure != "" && measure != models.MeasureVotingPower && measure != models.MeasureVoteCounts {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown measure", "measures": []string{models.MeasureVotingPower, models.MeasureVoteCounts}})
		return
	}
	rows, err := h.store.ListDAOPercentiles(c.Request.Context(), c.Query("protocol"), measure)
	if err != nil {
		h.fail(c, "Failed to fetch DAO percentiles", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "totalCount": len(rows)})
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	return page, limit
}

func (h *APIHandler) handleProposalStats(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	page, limit := pagination(c)
	rows, total, err := h.store.ListProposalStats(c.Request.Context(), c.Query("proposal"), page, limit)
	if err != nil {
		h.fail(c, "Failed to fetch proposal stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "totalCount": total, "page": page, "limit": limit})
}

func (h *APIHandler) handleClusters(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	page, limit := pagination(c)
	rows, total, err := h.store.ListClusterData(c.Request.Context(), page, limit)
	if err != nil {
		h.fail(c, "Failed to fetch cluster data", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "totalCount": total, "page": page, "limit": limit})
}

func (h *APIHandler) handleParameters(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := h.store.ListParameters(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "Failed to fetch parameters", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "totalCount": len(rows)})
}

// handleStartAnalytics launches an analytics run in the background.
// POST /api/v1/runs/analytics { "dao": true, "proposals": true }
func (h *APIHandler) handleStartAnalytics(c *gin.Context) {
	opts := runner.AnalyticsOptions{DAO: true, Proposals: true, Strict: h.strict}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {dao, proposals, strict}"})
			return
		}
	}
	if !opts.DAO && !opts.Proposals {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to run: enable dao and/or proposals"})
		return
	}
	runID, err := h.jobs.StartAnalytics(opts)
	h.started(c, runID, err)
}

// handleStartCluster launches a clustering run in the background.
// POST /api/v1/runs/cluster { "algorithm": "kmeans", "criterion": "silhouette", ... }
func (h *APIHandler) handleStartCluster(c *gin.Context) {
	var spec runner.ClusterSpec
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&spec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	opts, err := spec.Options(h.features)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runID, err := h.jobs.StartCluster(opts)
	h.started(c, runID, err)
}

func (h *APIHandler) started(c *gin.Context, runID string, err error) {
	switch {
	case errors.Is(err, runner.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "progress": h.jobs.GetProgress()})
	case err != nil:
		h.fail(c, "Failed to start run", err)
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "run_started", "runId": runID})
	}
}

// handleRunProgress returns the state of the current or last run.
func (h *APIHandler) handleRunProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.GetProgress())
}
