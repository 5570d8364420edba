// Package api implements the REST endpoints of the phusage service.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clucraft/phusage-sub000/internal/engine"
	"github.com/clucraft/phusage-sub000/internal/report"
	"github.com/clucraft/phusage-sub000/internal/store"
	"github.com/clucraft/phusage-sub000/pkg/models"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 1000
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// Handlers provides REST API endpoint handlers.
type Handlers struct {
	store     store.Store
	svc       *report.Service
	estimates store.EstimateStore
	now       func() time.Time
}

// NewHandlers creates a new Handlers instance. A nil store turns every data
// endpoint into a 503.
func NewHandlers(st store.Store, svc *report.Service, estimates store.EstimateStore) *Handlers {
	return &Handlers{
		store:     st,
		svc:       svc,
		estimates: estimates,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes mounts every management endpoint on g.
func (h *Handlers) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/costs/summary", h.GetCostSummary)
	g.GET("/costs/top", h.GetTopCosts)
	g.GET("/costs/trend", h.GetTrend)
	g.GET("/costs/locations", h.GetLocations)

	g.GET("/users/lookup", h.LookupUser)

	g.POST("/calls", h.ImportCalls)

	g.GET("/rates", h.ListRates)
	g.POST("/rates", h.UpsertRate)
	g.POST("/rates/import", h.ImportRates)
	g.POST("/rates/resolve", h.ResolveRate)
	g.DELETE("/rates/:id", h.DeleteRate)

	g.GET("/carriers", h.ListCarriers)
	g.POST("/carriers", h.UpsertCarrier)

	g.POST("/estimates", h.CreateEstimate)
	g.GET("/estimates/template", h.GetTemplate)
	g.GET("/estimates/saved", h.ListSavedEstimates)
	g.POST("/estimates/saved", h.SaveEstimate)
	g.GET("/estimates/saved/:id", h.GetSavedEstimate)
	g.DELETE("/estimates/saved/:id", h.DeleteSavedEstimate)

	g.GET("/insights", h.GetInsights)
}

// HealthCheck returns the service health status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	status, health, storeState := http.StatusOK, "healthy", "ok"
	if h.store == nil {
		storeState = "unavailable"
	} else if err := h.store.Ping(c.Request.Context()); err != nil {
		storeState = "error: " + err.Error()
	}
	if storeState != "ok" {
		status, health = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(status, gin.H{
		"status":    health,
		"service":   "phusage",
		"version":   Version,
		"store":     storeState,
		"estimates": h.estimates != nil,
	})
}

// requireStore returns true if the store is available, or sends a 503.
func (h *Handlers) requireStore(c *gin.Context) bool {
	if h.store == nil || h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return false
	}
	return true
}

func (h *Handlers) requireEstimates(c *gin.Context) bool {
	if h.estimates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "saved estimates unavailable"})
		return false
	}
	return true
}

// GetCostSummary aggregates calls.
// Query params: group_by (user|destination|origin|month), from, to, carrier_id
func (h *Handlers) GetCostSummary(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	groupBy, err := engine.ParseGroupBy(c.Query("group_by"))
	if err != nil {
		badRequest(c, err)
		return
	}
	f, err := filterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	rep, err := h.svc.Costs(c.Request.Context(), groupBy, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"group_by": rep.GroupBy,
		"filter":   rep.Filter,
		"summary":  rep.Summary,
		"count":    len(rep.Buckets),
		"data":     rep.Buckets,
	})
}

// GetTopCosts returns the highest-cost buckets. Query params as
// GetCostSummary plus limit (default 10).
func (h *Handlers) GetTopCosts(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	groupBy, err := engine.ParseGroupBy(c.Query("group_by"))
	if err != nil {
		badRequest(c, err)
		return
	}
	f, err := filterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultTopLimit)))
	if err != nil || limit < 1 || limit > maxTopLimit {
		limit = defaultTopLimit
	}

	top, err := h.svc.Top(c.Request.Context(), groupBy, f, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_by": groupBy, "count": len(top), "data": top})
}

// GetTrend returns the monthly series, gap months included.
func (h *Handlers) GetTrend(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	f, err := filterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	trend, err := h.svc.Trend(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(trend), "data": trend})
}

// GetLocations returns per-origin totals with their destinations.
func (h *Handlers) GetLocations(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	f, err := filterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	locs, err := h.svc.Locations(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(locs), "data": locs})
}

// LookupUser returns the calls of mailboxes matching q.
func (h *Handlers) LookupUser(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		badRequest(c, fmt.Errorf("query parameter 'q' is required"))
		return
	}
	f, err := filterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	detail, err := h.svc.User(c.Request.Context(), q, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// ImportCalls stores a batch of already-classified call records.
func (h *Handlers) ImportCalls(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	var calls []models.CallRecord
	if err := c.ShouldBindJSON(&calls); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.svc.ImportCalls(c.Request.Context(), calls)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"imported": n})
}

// ListRates returns the rate catalog. Query params: origin
func (h *Handlers) ListRates(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	rates, err := h.svc.Rates(c.Request.Context(), c.Query("origin"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(rates), "data": rates})
}

// UpsertRate creates or replaces the rate of a lane.
func (h *Handlers) UpsertRate(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	var r models.RateEntry
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.store.UpsertRate(c.Request.Context(), &r); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ImportRates upserts a batch of rate entries.
func (h *Handlers) ImportRates(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	var rates []models.RateEntry
	if err := c.ShouldBindJSON(&rates); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.svc.ImportRates(c.Request.Context(), rates)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "imported": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

// ResolveRequest asks for the rate of a single lane.
type ResolveRequest struct {
	OriginCountry      string `json:"origin_country" valid:"required"`
	DestinationCountry string `json:"destination_country" valid:"required"`
	CallType           string `json:"call_type"`
	CarrierID          *int64 `json:"carrier_id,omitempty"`
}

// ResolveRate runs the resolver for one lane.
func (h *Handlers) ResolveRate(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := govalidator.ValidateStruct(req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.ResolveRate(c.Request.Context(), req.OriginCountry, req.DestinationCountry, req.CallType, req.CarrierID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteRate removes a rate entry.
func (h *Handlers) DeleteRate(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("invalid rate id %q", c.Param("id")))
		return
	}
	if err := h.store.DeleteRate(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListCarriers returns every carrier.
func (h *Handlers) ListCarriers(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	carriers, err := h.store.ListCarriers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(carriers), "data": carriers})
}

// UpsertCarrier creates a carrier or renames one by id.
func (h *Handlers) UpsertCarrier(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	var carrier models.Carrier
	if err := c.ShouldBindJSON(&carrier); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(carrier.Name) == "" {
		badRequest(c, fmt.Errorf("name is required"))
		return
	}
	carrier.Name = strings.TrimSpace(carrier.Name)
	if err := h.store.UpsertCarrier(c.Request.Context(), &carrier); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, carrier)
}

// bindScenario decodes and validates a scenario body.
func bindScenario(c *gin.Context, in *engine.ScenarioInput) bool {
	if err := c.ShouldBindJSON(in); err != nil {
		badRequest(c, err)
		return false
	}
	if _, err := govalidator.ValidateStruct(in); err != nil {
		badRequest(c, fmt.Errorf("%w: %v", engine.ErrInvalidScenario, err))
		return false
	}
	return true
}

// CreateEstimate projects the cost of a hypothetical site.
func (h *Handlers) CreateEstimate(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	var in engine.ScenarioInput
	if !bindScenario(c, &in) {
		return
	}
	res, err := h.svc.Estimate(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetTemplate derives a scenario template from history.
// Query params: origin, year (default: current year)
func (h *Handlers) GetTemplate(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	year := h.now().Year()
	if s := c.Query("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil {
			badRequest(c, fmt.Errorf("%w: %q", report.ErrInvalidYear, s))
			return
		}
		year = y
	}
	tpl, err := h.svc.Template(c.Request.Context(), c.Query("origin"), year)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// SaveEstimateRequest names a scenario to compute and keep.
type SaveEstimateRequest struct {
	Name  string               `json:"name" valid:"required"`
	Input engine.ScenarioInput `json:"input"`
}

// SaveEstimate computes the scenario and stores input and result together.
func (h *Handlers) SaveEstimate(c *gin.Context) {
	if !h.requireStore(c) || !h.requireEstimates(c) {
		return
	}
	var req SaveEstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := govalidator.ValidateStruct(req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.Estimate(c.Request.Context(), req.Input)
	if err != nil {
		respondError(c, err)
		return
	}

	input, err := json.Marshal(req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := json.Marshal(res)
	if err != nil {
		respondError(c, err)
		return
	}
	saved := &models.SavedEstimate{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: h.now(),
		Input:     input,
		Result:    result,
	}
	if err := h.estimates.SaveEstimate(c.Request.Context(), saved); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

// ListSavedEstimates returns saved estimates, newest first.
func (h *Handlers) ListSavedEstimates(c *gin.Context) {
	if !h.requireEstimates(c) {
		return
	}
	list, err := h.estimates.ListEstimates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(list), "data": list})
}

// GetSavedEstimate returns one saved estimate.
func (h *Handlers) GetSavedEstimate(c *gin.Context) {
	if !h.requireEstimates(c) {
		return
	}
	e, err := h.estimates.GetEstimate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// DeleteSavedEstimate removes a saved estimate.
func (h *Handlers) DeleteSavedEstimate(c *gin.Context) {
	if !h.requireEstimates(c) {
		return
	}
	if err := h.estimates.DeleteEstimate(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetInsights returns cost insights for the filtered range.
func (h *Handlers) GetInsights(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	f, err := filterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	insights, err := h.svc.Insights(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(insights), "data": insights})
}
