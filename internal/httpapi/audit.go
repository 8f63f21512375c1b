package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/store"
)

func (h *handlers) registerAudit(r *gin.RouterGroup) {
	r.GET("/requests/:id/audit_log", func(c *gin.Context) { apierror.Handle(c, h.listAuditLog) })
}

func (h *handlers) listAuditLog(c *gin.Context) (any, error) {
	filter := store.AuditFilter{
		RequestID: c.Param("id"),
		Actor:     c.Query("actor"),
		Kind:      c.Query("kind"),
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil {
		filter.Offset = offset
	}
	return h.store.ListAuditLog(c.Request.Context(), filter)
}
