package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/review"
	"github.com/opensafely-core/airlock/internal/store"
)

func (h *handlers) registerRequests(r *gin.RouterGroup) {
	r.POST("/requests", func(c *gin.Context) { apierror.Handle(c, h.createRequest) })
	r.GET("/requests", func(c *gin.Context) { apierror.Handle(c, h.listRequests) })
	r.GET("/requests/:id", func(c *gin.Context) { apierror.Handle(c, h.getRequest) })
	r.POST("/requests/:id/submit", func(c *gin.Context) { apierror.Handle(c, h.submitRequest) })
	r.POST("/requests/:id/withdraw", func(c *gin.Context) { apierror.Handle(c, h.withdrawRequest) })
}

type createRequestBody struct {
	Workspace string `json:"workspace" binding:"required"`
}

func (h *handlers) createRequest(c *gin.Context) (any, error) {
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, apierror.NewBadRequest(err.Error())
	}
	req, err := h.ctrl.CreateRequest(c.Request.Context(), principalFrom(c), body.Workspace)
	if err != nil {
		return nil, err
	}
	c.Status(http.StatusCreated)
	return req, nil
}

func (h *handlers) listRequests(c *gin.Context) (any, error) {
	filter := store.RequestFilter{
		Workspace: c.Query("workspace"),
		Author:    c.Query("author"),
	}
	if s := c.Query("status"); s != "" {
		filter.Statuses = []domain.Status{domain.Status(s)}
	}
	return h.store.ListRequests(c.Request.Context(), filter)
}

// requestView is the composed read model for GET /requests/:id: the
// request itself plus every child collection, with votes and comments
// filtered to what the caller may see per the independent-review blinding
// rule (spec §4.5).
type requestView struct {
	domain.Request
	Groups  []domain.Group   `json:"groups"`
	Files   []domain.File    `json:"files"`
	Votes   []domain.Vote    `json:"votes"`
	Comments []domain.Comment `json:"comments"`
}

func (h *handlers) getRequest(c *gin.Context) (any, error) {
	ctx := c.Request.Context()
	requestID := c.Param("id")
	req, err := h.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	p := principalFrom(c)
	caps := h.ctrl.Identity.Resolve(p, req.Workspace, &req)

	groups, err := h.store.ListGroups(ctx, requestID)
	if err != nil {
		return nil, err
	}
	files, err := h.store.ListFiles(ctx, requestID)
	if err != nil {
		return nil, err
	}
	votes, err := h.store.ListVotes(ctx, requestID, req.ReviewTurn)
	if err != nil {
		return nil, err
	}
	comments, err := h.store.ListComments(ctx, requestID, req.ReviewTurn)
	if err != nil {
		return nil, err
	}

	blinded := review.Blinded(req.Status) && caps.CanActAsReviewer()
	votes = review.VisibleVotes(votes, p.Username, blinded)
	comments = review.VisibleComments(comments, p.Username, caps.IsAuthor, blinded, req.ReviewTurn)

	return requestView{Request: req, Groups: groups, Files: files, Votes: votes, Comments: comments}, nil
}

func (h *handlers) submitRequest(c *gin.Context) (any, error) {
	return h.ctrl.Submit(c.Request.Context(), principalFrom(c), c.Param("id"))
}

func (h *handlers) withdrawRequest(c *gin.Context) (any, error) {
	return h.ctrl.WithdrawRequest(c.Request.Context(), principalFrom(c), c.Param("id"))
}
