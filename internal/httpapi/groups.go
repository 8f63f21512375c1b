package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/controller"
)

func (h *handlers) registerGroups(r *gin.RouterGroup) {
	r.PATCH("/requests/:id/groups/:group_id", func(c *gin.Context) { apierror.Handle(c, h.editGroup) })
}

type editGroupBody struct {
	Context  *string `json:"context"`
	Controls *string `json:"controls"`
}

func (h *handlers) editGroup(c *gin.Context) (any, error) {
	var body editGroupBody
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, apierror.NewBadRequest(err.Error())
	}
	err := h.ctrl.EditGroup(c.Request.Context(), principalFrom(c), c.Param("id"), c.Param("group_id"), controller.GroupProperties{
		Context:  body.Context,
		Controls: body.Controls,
	})
	return nil, err
}
