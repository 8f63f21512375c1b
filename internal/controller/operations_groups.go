package controller

import (
	"context"

	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/audit"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/store"
)

// GroupProperties is the set of fields edit_group may update.
type GroupProperties struct {
	Context  *string
	Controls *string
}

// EditGroup implements edit_group(A, R, G, {context?, controls?}):
// PENDING/RETURNED only, author only.
func (c *Controller) EditGroup(ctx context.Context, p domain.Principal, requestID, groupID string, props GroupProperties) error {
	return c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if err := requireAuthorEditable(caps, req); err != nil {
			return err
		}

		groups, err := tx.ListGroups(ctx, requestID)
		if err != nil {
			return err
		}
		idx := -1
		for i, g := range groups {
			if g.ID == groupID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apierror.NewNotFound("group", groupID)
		}
		g := groups[idx]
		if props.Context != nil {
			g.Context = *props.Context
		}
		if props.Controls != nil {
			g.Controls = *props.Controls
		}
		if err := tx.UpdateGroup(ctx, g); err != nil {
			return err
		}
		return c.audit(ctx, tx, requestID, p.Username, audit.KindEditGroup, nil, map[string]any{"group_id": groupID})
	})
}
