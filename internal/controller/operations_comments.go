package controller

import (
	"context"

	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/audit"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/store"
)

func findGroup(groups []domain.Group, id string) (domain.Group, bool) {
	for _, g := range groups {
		if g.ID == id {
			return g, true
		}
	}
	return domain.Group{}, false
}

// CreateComment implements create_comment(P, R, G, text, visibility): the
// author may only post PUBLIC comments, and only while the request is
// PENDING/RETURNED; an output-checker may post either visibility while the
// request is in one of the three reviewer-owned statuses.
func (c *Controller) CreateComment(ctx context.Context, p domain.Principal, requestID, groupID, text string, visibility domain.Visibility) (domain.Comment, error) {
	var result domain.Comment
	err := c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}

		groups, err := tx.ListGroups(ctx, requestID)
		if err != nil {
			return err
		}
		if _, ok := findGroup(groups, groupID); !ok {
			return apierror.NewNotFound("group", groupID)
		}

		switch {
		case caps.IsAuthor:
			if !editableStatus(req.Status) {
				return apierror.NewPrecondition("author may only comment while the request is PENDING or RETURNED")
			}
			if visibility != domain.VisibilityPublic {
				return apierror.NewPermissionDenied("author may only post PUBLIC comments")
			}
		case caps.CanActAsReviewer():
			if !reviewerCommentableStatus(req.Status) {
				return apierror.NewPrecondition("output-checker may only comment while the request is under review")
			}
		default:
			return apierror.NewPermissionDenied("no comment capability on this request")
		}

		comment := domain.Comment{
			ID:         c.NewID(),
			GroupID:    groupID,
			Author:     p.Username,
			Text:       text,
			Visibility: visibility,
			ReviewTurn: req.ReviewTurn,
			CreatedAt:  c.Clock(),
		}
		if err := tx.InsertComment(ctx, comment); err != nil {
			return err
		}
		if err := c.audit(ctx, tx, requestID, p.Username, audit.KindCreateComment, nil, map[string]any{"group_id": groupID}); err != nil {
			return err
		}
		result = comment
		return nil
	})
	if err != nil {
		return domain.Comment{}, err
	}
	return result, nil
}

func reviewerCommentableStatus(s domain.Status) bool {
	switch s {
	case domain.StatusSubmitted, domain.StatusPartiallyReviewed, domain.StatusReviewed:
		return true
	default:
		return false
	}
}

// PromoteComment implements promote_comment(P, comment): PRIVATE → PUBLIC,
// only by the comment's own author, only within the review_turn it was
// authored in.
func (c *Controller) PromoteComment(ctx context.Context, p domain.Principal, requestID, commentID string) error {
	return c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		comment, err := c.Store.GetComment(ctx, commentID)
		if err != nil {
			return err
		}
		if comment.Author != p.Username {
			return apierror.NewPermissionDenied("only the comment's author may promote it")
		}
		if comment.ReviewTurn != req.ReviewTurn {
			return apierror.NewPrecondition("comment may only be promoted within the turn it was authored")
		}
		comment.Visibility = domain.VisibilityPublic
		if err := tx.UpdateComment(ctx, comment); err != nil {
			return err
		}
		return c.audit(ctx, tx, requestID, p.Username, audit.KindPromoteComment, nil, map[string]any{"comment_id": commentID})
	})
}

// DeleteComment implements delete_comment(P, comment): only by the
// comment's author, only within the turn it was authored.
func (c *Controller) DeleteComment(ctx context.Context, p domain.Principal, requestID, commentID string) error {
	return c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		comment, err := c.Store.GetComment(ctx, commentID)
		if err != nil {
			return err
		}
		if comment.Author != p.Username {
			return apierror.NewPermissionDenied("only the comment's author may delete it")
		}
		if comment.ReviewTurn != req.ReviewTurn {
			return apierror.NewPrecondition("comment may only be deleted within the turn it was authored")
		}
		if err := tx.DeleteComment(ctx, commentID); err != nil {
			return err
		}
		return c.audit(ctx, tx, requestID, p.Username, audit.KindDeleteComment, nil, map[string]any{"comment_id": commentID})
	})
}
