// Package httpapi is the gin HTTP surface over the Request Controller: one
// route per spec §4 operation, each handler doing nothing but binding the
// request and delegating to the controller, following the
// apierror.Handle/HandleFunc split that keeps response-writing out of
// business logic.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opensafely-core/airlock/internal/controller"
	"github.com/opensafely-core/airlock/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the gin engine wiring every resource family to ctrl/st.
// Health and metrics are served on a separate listener (see
// NewAdminRouter) so the API surface stays free of operational endpoints.
func NewRouter(ctrl *controller.Controller, st store.Store) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(tracingMiddleware())
	r.Use(loggingMiddleware())
	r.Use(metricsMiddleware())

	api := r.Group("/api/v1")
	api.Use(principalMiddleware())

	h := &handlers{ctrl: ctrl, store: st}
	h.registerRequests(api)
	h.registerFiles(api)
	h.registerGroups(api)
	h.registerComments(api)
	h.registerReview(api)
	h.registerAudit(api)
	h.registerUploads(api)

	return r
}

// handlers bundles the controller and store every handler file's methods
// close over.
type handlers struct {
	ctrl  *controller.Controller
	store store.Store
}

// NewAdminRouter builds the operational listener: liveness and the
// prometheus scrape endpoint, the same health/metrics split
// InitHealthServer gives its own port rather than mounting under the API
// engine.
func NewAdminRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
