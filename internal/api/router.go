package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"mdsync/internal/config"
	"mdsync/internal/domain"
	"mdsync/internal/etl"
	"mdsync/internal/service"
)

// Syncer is the part of service.SyncService the API needs.
type Syncer interface {
	Providers() []domain.ProviderConfig
	RunProvider(ctx context.Context, name string, opts service.RunOptions) (*etl.SyncResult, error)
	PlanWindows(ctx context.Context, name string, opts service.RunOptions) (*service.Plan, error)
	ListRuns(provider string, limit int) ([]domain.SyncRun, error)
	ListDuplicates(runID string) ([]domain.DuplicateTrip, error)
}

// NewRouter builds the status and trigger API. metrics may be nil.
func NewRouter(svc Syncer, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Logger(), gin.Recovery())

	if err := r.SetTrustedProxies(nil); err != nil {
		log.Printf("warning: failed to set trusted proxies: %v", err)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "route not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})

	h := &handlers{svc: svc}
	r.GET("/healthz", h.health)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	providers := r.Group("/providers")
	providers.GET("", h.listProviders)
	providers.GET("/:name/plan", h.plan)
	providers.POST("/:name/run", h.run)

	runs := r.Group("/runs")
	runs.GET("", h.listRuns)
	runs.GET("/:id/duplicates", h.listDuplicates)

	return r
}

type handlers struct {
	svc Syncer
}

// GET /healthz
func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /providers
func (h *handlers) listProviders(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Providers())
}

// GET /providers/:name/plan?start=&end=
func (h *handlers) plan(c *gin.Context) {
	var opts service.RunOptions
	var err error
	if opts.Start, err = queryInt64(c, "start"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if opts.End, err = queryInt64(c, "end"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan, err := h.svc.PlanWindows(c.Request.Context(), c.Param("name"), opts)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, plan)
}

// POST /providers/:name/run  {"start":..., "end":..., "replace":false}
func (h *handlers) run(c *gin.Context) {
	var opts service.RunOptions
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
			return
		}
	}

	res, err := h.svc.RunProvider(c.Request.Context(), c.Param("name"), opts)
	if err != nil {
		body := gin.H{"error": err.Error()}
		if res != nil {
			body["result"] = res
		}
		c.JSON(statusFor(err), body)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /runs?provider=lime&limit=20
func (h *handlers) listRuns(c *gin.Context) {
	limit := 50
	if s := strings.TrimSpace(c.Query("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, 500)
	}

	runs, err := h.svc.ListRuns(strings.TrimSpace(c.Query("provider")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []domain.SyncRun{}
	}
	c.JSON(http.StatusOK, runs)
}

// GET /runs/:id/duplicates
func (h *handlers) listDuplicates(c *gin.Context) {
	dups, err := h.svc.ListDuplicates(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if dups == nil {
		dups = []domain.DuplicateTrip{}
	}
	c.JSON(http.StatusOK, dups)
}

func queryInt64(c *gin.Context, key string) (*int64, error) {
	s := strings.TrimSpace(c.Query(key))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, errors.New(key + " must be unix seconds")
	}
	return &v, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, config.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyRunning):
		return http.StatusConflict
	case etl.IsKind(err, etl.KindSchedule):
		return http.StatusBadRequest
	case etl.IsKind(err, etl.KindTransport), etl.IsKind(err, etl.KindAuth):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
