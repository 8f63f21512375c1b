package controller

import (
	"bytes"
	"context"

	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/audit"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/store"
	"github.com/opensafely-core/airlock/internal/workspace"
)

// snapshot reads relpath's current bytes from the workspace and copies
// them into the content store, returning the resulting hash and size —
// the one moment a request-file's bytes are read live from the workspace;
// every later operation (including upload) reads back through the
// content-addressed store instead.
func (c *Controller) snapshot(ws *workspace.View, relpath string) (hash string, size int64, err error) {
	data, err := ws.Read(context.Background(), relpath)
	if err != nil {
		return "", 0, err
	}
	return c.Contents.Put(bytes.NewReader(data))
}

// NewFile describes one file to add, as requested by the author.
type NewFile struct {
	RelPath   string
	FileType  domain.FileType
	GroupName string
}

func editableStatus(s domain.Status) bool {
	return s == domain.StatusPending || s == domain.StatusReturned
}

func requireAuthorEditable(caps domain.Capabilities, req domain.Request) error {
	if !caps.IsAuthor {
		return apierror.NewPermissionDenied("only the request author may edit it")
	}
	if !editableStatus(req.Status) {
		return apierror.NewPrecondition("request must be PENDING or RETURNED to edit files")
	}
	return nil
}

// AddFiles implements add_files(A, R, [(relpath, filetype, group)]):
// snapshots bytes from the workspace, enforces F1, creates a group for
// each named group that does not yet exist.
func (c *Controller) AddFiles(ctx context.Context, p domain.Principal, requestID string, files []NewFile) ([]domain.File, error) {
	var result []domain.File
	err := c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if err := requireAuthorEditable(caps, req); err != nil {
			return err
		}

		ws, err := c.Workspaces.Get(req.Workspace)
		if err != nil {
			return err
		}

		existing, err := tx.ListFiles(ctx, requestID)
		if err != nil {
			return err
		}
		activePaths := map[string]bool{}
		for _, f := range existing {
			if !f.Withdrawn() {
				activePaths[f.RelPath] = true
			}
		}

		for _, nf := range files {
			if activePaths[nf.RelPath] {
				return apierror.NewInvariant("relpath " + nf.RelPath + " is already active on this request")
			}
			activePaths[nf.RelPath] = true
		}

		now := c.Clock()
		for _, nf := range files {
			group, err := tx.UpsertGroup(ctx, domain.Group{
				RequestID: requestID,
				Name:      nf.GroupName,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			hash, size, err := c.snapshot(ws, nf.RelPath)
			if err != nil {
				return err
			}
			file := domain.File{
				ID:          c.NewID(),
				RequestID:   requestID,
				GroupID:     group.ID,
				RelPath:     nf.RelPath,
				FileType:    nf.FileType,
				ContentHash: hash,
				Size:        size,
				AddedAt:     now,
				AddedBy:     p.Username,
				AddedInTurn: req.ReviewTurn,
			}
			if err := tx.InsertFile(ctx, file); err != nil {
				return err
			}
			relpath := nf.RelPath
			if err := c.audit(ctx, tx, requestID, p.Username, audit.KindAddFiles, &relpath, nil); err != nil {
				return err
			}
			result = append(result, file)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateFile implements update_file(A, R, relpath): replaces the snapshot
// with the current workspace content and resets every existing vote on
// that file, since they no longer apply to the new bytes.
func (c *Controller) UpdateFile(ctx context.Context, p domain.Principal, requestID, relpath string) (domain.File, error) {
	var result domain.File
	err := c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if err := requireAuthorEditable(caps, req); err != nil {
			return err
		}

		files, err := tx.ListFiles(ctx, requestID)
		if err != nil {
			return err
		}
		var target *domain.File
		for i := range files {
			if files[i].RelPath == relpath && !files[i].Withdrawn() {
				target = &files[i]
				break
			}
		}
		if target == nil {
			return apierror.NewNotFound("file", relpath)
		}

		ws, err := c.Workspaces.Get(req.Workspace)
		if err != nil {
			return err
		}
		hash, size, err := c.snapshot(ws, relpath)
		if err != nil {
			return err
		}
		target.ContentHash = hash
		target.Size = size
		if err := tx.UpdateFile(ctx, *target); err != nil {
			return err
		}
		if err := tx.DeleteVotesForFile(ctx, target.ID); err != nil {
			return err
		}
		if err := c.audit(ctx, tx, requestID, p.Username, audit.KindUpdateFile, &relpath, nil); err != nil {
			return err
		}
		result = *target
		return nil
	})
	if err != nil {
		return domain.File{}, err
	}
	return result, nil
}

// WithdrawFile implements withdraw_file(A, R, relpath), per F3: in
// PENDING the row is deleted outright; in RETURNED it is tombstoned so the
// history of what was reviewed stays intact.
func (c *Controller) WithdrawFile(ctx context.Context, p domain.Principal, requestID, relpath string) error {
	return c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if !caps.IsAuthor {
			return apierror.NewPermissionDenied("only the request author may withdraw a file")
		}
		if !editableStatus(req.Status) {
			return apierror.NewPrecondition("file may only be withdrawn while the request is PENDING or RETURNED")
		}

		files, err := tx.ListFiles(ctx, requestID)
		if err != nil {
			return err
		}
		var target *domain.File
		for i := range files {
			if files[i].RelPath == relpath && !files[i].Withdrawn() {
				target = &files[i]
				break
			}
		}
		if target == nil {
			return apierror.NewNotFound("file", relpath)
		}

		if req.Status == domain.StatusPending {
			if err := tx.DeleteFile(ctx, target.ID); err != nil {
				return err
			}
		} else {
			now := c.Clock()
			turn := req.ReviewTurn
			target.WithdrawnAt = &now
			target.WithdrawnInTurn = &turn
			if err := tx.UpdateFile(ctx, *target); err != nil {
				return err
			}
		}
		return c.audit(ctx, tx, requestID, p.Username, audit.KindWithdrawFile, &relpath, nil)
	})
}

// FileProperties is the set of fields change_file_properties may update.
type FileProperties struct {
	FileType  *domain.FileType
	GroupName *string
}

// ChangeFileProperties implements change_file_properties(A, R, relpath,
// {filetype?, group?}), gated the same way as AddFiles.
func (c *Controller) ChangeFileProperties(ctx context.Context, p domain.Principal, requestID, relpath string, props FileProperties) (domain.File, error) {
	var result domain.File
	err := c.Store.WithRequestLock(ctx, requestID, func(ctx context.Context, tx store.Tx) error {
		req, caps, err := c.loadRequestForAction(ctx, tx, requestID, p)
		if err != nil {
			return err
		}
		if err := requireAuthorEditable(caps, req); err != nil {
			return err
		}

		files, err := tx.ListFiles(ctx, requestID)
		if err != nil {
			return err
		}
		var target *domain.File
		for i := range files {
			if files[i].RelPath == relpath && !files[i].Withdrawn() {
				target = &files[i]
				break
			}
		}
		if target == nil {
			return apierror.NewNotFound("file", relpath)
		}

		if props.FileType != nil {
			target.FileType = *props.FileType
		}
		if props.GroupName != nil {
			group, err := tx.UpsertGroup(ctx, domain.Group{
				RequestID: requestID,
				Name:      *props.GroupName,
				CreatedAt: c.Clock(),
			})
			if err != nil {
				return err
			}
			target.GroupID = group.ID
		}
		if err := tx.UpdateFile(ctx, *target); err != nil {
			return err
		}
		if err := c.audit(ctx, tx, requestID, p.Username, audit.KindChangeFileProperties, &relpath, nil); err != nil {
			return err
		}
		result = *target
		return nil
	})
	if err != nil {
		return domain.File{}, err
	}
	return result, nil
}
