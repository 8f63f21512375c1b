package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/opensafely-core/airlock/internal/apierror"
)

func (h *handlers) registerUploads(r *gin.RouterGroup) {
	r.GET("/requests/:id/upload_jobs", func(c *gin.Context) { apierror.Handle(c, h.listUploadJobs) })
}

func (h *handlers) listUploadJobs(c *gin.Context) (any, error) {
	return h.store.ListUploadJobs(c.Request.Context(), c.Param("id"))
}
