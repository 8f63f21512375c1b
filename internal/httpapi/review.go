package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/domain"
)

func (h *handlers) registerReview(r *gin.RouterGroup) {
	r.PUT("/requests/:id/files/:file_id/vote", func(c *gin.Context) { apierror.Handle(c, h.vote) })
	r.POST("/requests/:id/submit_review", func(c *gin.Context) { apierror.Handle(c, h.submitReview) })
	r.POST("/requests/:id/return", func(c *gin.Context) { apierror.Handle(c, h.returnRequest) })
	r.POST("/requests/:id/reject", func(c *gin.Context) { apierror.Handle(c, h.reject) })
	r.POST("/requests/:id/release", func(c *gin.Context) { apierror.Handle(c, h.releaseFiles) })
	r.POST("/requests/:id/re_release", func(c *gin.Context) { apierror.Handle(c, h.reReleaseFiles) })
}

type voteBody struct {
	Choice domain.VoteChoice `json:"choice" binding:"required"`
}

func (h *handlers) vote(c *gin.Context) (any, error) {
	var body voteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, apierror.NewBadRequest(err.Error())
	}
	err := h.ctrl.Vote(c.Request.Context(), principalFrom(c), c.Param("id"), c.Param("file_id"), body.Choice)
	return nil, err
}

func (h *handlers) submitReview(c *gin.Context) (any, error) {
	return h.ctrl.SubmitReview(c.Request.Context(), principalFrom(c), c.Param("id"))
}

func (h *handlers) returnRequest(c *gin.Context) (any, error) {
	return h.ctrl.ReturnRequest(c.Request.Context(), principalFrom(c), c.Param("id"))
}

func (h *handlers) reject(c *gin.Context) (any, error) {
	return h.ctrl.Reject(c.Request.Context(), principalFrom(c), c.Param("id"))
}

func (h *handlers) releaseFiles(c *gin.Context) (any, error) {
	return h.ctrl.ReleaseFiles(c.Request.Context(), principalFrom(c), c.Param("id"))
}

func (h *handlers) reReleaseFiles(c *gin.Context) (any, error) {
	if err := h.ctrl.ReReleaseFiles(c.Request.Context(), principalFrom(c), c.Param("id")); err != nil {
		return nil, err
	}
	c.Status(http.StatusAccepted)
	return nil, nil
}
