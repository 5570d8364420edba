package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clucraft/phusage-sub000/internal/engine"
	"github.com/clucraft/phusage-sub000/internal/logger"
	"github.com/clucraft/phusage-sub000/internal/report"
	"github.com/clucraft/phusage-sub000/internal/store"
)

const dateLayout = "2006-01-02"

// parseTimeParam accepts RFC3339 or a bare date. A bare date used as an
// upper bound means the end of that day.
func parseTimeParam(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("use RFC3339 or YYYY-MM-DD")
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

func parseOptionalID(s string) (*int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("must be a positive integer")
	}
	return &id, nil
}

// filterFromQuery reads from, to and carrier_id.
func filterFromQuery(c *gin.Context) (engine.Filter, error) {
	var f engine.Filter
	var err error
	if f.From, err = parseTimeParam(c.Query("from"), false); err != nil {
		return f, fmt.Errorf("invalid 'from': %w", err)
	}
	if f.To, err = parseTimeParam(c.Query("to"), true); err != nil {
		return f, fmt.Errorf("invalid 'to': %w", err)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, errors.New("'to' is before 'from'")
	}
	if f.CarrierID, err = parseOptionalID(c.Query("carrier_id")); err != nil {
		return f, fmt.Errorf("invalid 'carrier_id': %w", err)
	}
	return f, nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUserNotFound),
		errors.Is(err, engine.ErrNoHistory),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidScenario),
		errors.Is(err, engine.ErrInvalidGroupBy),
		errors.Is(err, engine.ErrTrendSpan),
		errors.Is(err, store.ErrInvalidRate),
		errors.Is(err, report.ErrInvalidYear),
		errors.Is(err, report.ErrInvalidCall):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.APILog.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
