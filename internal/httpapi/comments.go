package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/domain"
)

func (h *handlers) registerComments(r *gin.RouterGroup) {
	r.POST("/requests/:id/groups/:group_id/comments", func(c *gin.Context) { apierror.Handle(c, h.createComment) })
	r.POST("/requests/:id/comments/:comment_id/promote", func(c *gin.Context) { apierror.Handle(c, h.promoteComment) })
	r.DELETE("/requests/:id/comments/:comment_id", func(c *gin.Context) { apierror.Handle(c, h.deleteComment) })
}

type createCommentBody struct {
	Text       string            `json:"text" binding:"required"`
	Visibility domain.Visibility `json:"visibility" binding:"required"`
}

func (h *handlers) createComment(c *gin.Context) (any, error) {
	var body createCommentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, apierror.NewBadRequest(err.Error())
	}
	comment, err := h.ctrl.CreateComment(c.Request.Context(), principalFrom(c), c.Param("id"), c.Param("group_id"), body.Text, body.Visibility)
	if err != nil {
		return nil, err
	}
	c.Status(http.StatusCreated)
	return comment, nil
}

func (h *handlers) promoteComment(c *gin.Context) (any, error) {
	err := h.ctrl.PromoteComment(c.Request.Context(), principalFrom(c), c.Param("id"), c.Param("comment_id"))
	return nil, err
}

func (h *handlers) deleteComment(c *gin.Context) (any, error) {
	if err := h.ctrl.DeleteComment(c.Request.Context(), principalFrom(c), c.Param("id"), c.Param("comment_id")); err != nil {
		return nil, err
	}
	c.Status(http.StatusNoContent)
	return nil, nil
}
