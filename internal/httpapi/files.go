package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/controller"
	"github.com/opensafely-core/airlock/internal/domain"
)

func (h *handlers) registerFiles(r *gin.RouterGroup) {
	r.POST("/requests/:id/files", func(c *gin.Context) { apierror.Handle(c, h.addFiles) })
	r.PUT("/requests/:id/files/*relpath", func(c *gin.Context) { apierror.Handle(c, h.updateFile) })
	r.DELETE("/requests/:id/files/*relpath", func(c *gin.Context) { apierror.Handle(c, h.withdrawFile) })
	r.PATCH("/requests/:id/files/*relpath", func(c *gin.Context) { apierror.Handle(c, h.changeFileProperties) })
}

type newFileBody struct {
	RelPath   string          `json:"relpath" binding:"required"`
	FileType  domain.FileType `json:"filetype" binding:"required"`
	GroupName string          `json:"group" binding:"required"`
}

type addFilesBody struct {
	Files []newFileBody `json:"files" binding:"required,min=1,dive"`
}

func (h *handlers) addFiles(c *gin.Context) (any, error) {
	var body addFilesBody
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, apierror.NewBadRequest(err.Error())
	}
	files := make([]controller.NewFile, 0, len(body.Files))
	for _, f := range body.Files {
		files = append(files, controller.NewFile{RelPath: f.RelPath, FileType: f.FileType, GroupName: f.GroupName})
	}
	created, err := h.ctrl.AddFiles(c.Request.Context(), principalFrom(c), c.Param("id"), files)
	if err != nil {
		return nil, err
	}
	c.Status(http.StatusCreated)
	return created, nil
}

// relpathParam strips the leading slash gin's wildcard param carries.
func relpathParam(c *gin.Context) string {
	rp := c.Param("relpath")
	if len(rp) > 0 && rp[0] == '/' {
		rp = rp[1:]
	}
	return rp
}

func (h *handlers) updateFile(c *gin.Context) (any, error) {
	return h.ctrl.UpdateFile(c.Request.Context(), principalFrom(c), c.Param("id"), relpathParam(c))
}

func (h *handlers) withdrawFile(c *gin.Context) (any, error) {
	if err := h.ctrl.WithdrawFile(c.Request.Context(), principalFrom(c), c.Param("id"), relpathParam(c)); err != nil {
		return nil, err
	}
	c.Status(http.StatusNoContent)
	return nil, nil
}

type changeFilePropertiesBody struct {
	FileType  *domain.FileType `json:"filetype"`
	GroupName *string          `json:"group"`
}

func (h *handlers) changeFileProperties(c *gin.Context) (any, error) {
	var body changeFilePropertiesBody
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, apierror.NewBadRequest(err.Error())
	}
	return h.ctrl.ChangeFileProperties(c.Request.Context(), principalFrom(c), c.Param("id"), relpathParam(c), controller.FileProperties{
		FileType:  body.FileType,
		GroupName: body.GroupName,
	})
}
