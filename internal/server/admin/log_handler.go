package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"liteproxy/internal/store"
	"liteproxy/internal/store/model"
	"liteproxy/pkg/api"
)

type LogHandler struct {
	repo store.Repository
}

func NewLogHandler(repo store.Repository) *LogHandler {
	return &LogHandler{repo: repo}
}

// List returns audit records, newest first, with the filters the log
// browser exposes: timestamp range, status-code range, case-insensitive
// path substring and exact method.
//
// GET /admin/logs?start=&end=&status_min=&status_max=&path=&method=&skip=&limit=
func (h *LogHandler) List(c *gin.Context) {
	filter, err := parseLogFilter(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	skip := intQuery(c, "skip", 0)
	limit := intQuery(c, "limit", 100)

	ctx := c.Request.Context()
	entries, qerr := h.repo.Logs().Find(ctx, filter, skip, limit)
	if qerr != nil {
		_ = c.Error(api.InternalError("failed to query logs", qerr))
		return
	}

	total, qerr := h.repo.Logs().Count(ctx, filter)
	if qerr != nil {
		_ = c.Error(api.InternalError("failed to count logs", qerr))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total": total,
		"data":  entries,
	})
}

func parseLogFilter(c *gin.Context) (model.LogFilter, error) {
	var filter model.LogFilter

	if raw := c.Query("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, api.BadRequestError("'start' must be an RFC3339 timestamp")
		}
		filter.Start = &t
	}
	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, api.BadRequestError("'end' must be an RFC3339 timestamp")
		}
		filter.End = &t
	}

	filter.StatusMin = intQuery(c, "status_min", 0)
	filter.StatusMax = intQuery(c, "status_max", 0)
	filter.PathContains = c.Query("path")
	filter.Method = c.Query("method")

	return filter, nil
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
