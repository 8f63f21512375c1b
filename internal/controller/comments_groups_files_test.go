package controller_test

import (
	"context"
	"testing"

	"github.com/opensafely-core/airlock/internal/controller"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/stretchr/testify/require"
)

func createRequestWithFile(t *testing.T, ctrl *controller.Controller) (domain.Request, domain.File) {
	t.Helper()
	ctx := context.Background()
	req, err := ctrl.CreateRequest(ctx, author, testWorkspace)
	require.NoError(t, err)
	files, err := ctrl.AddFiles(ctx, author, req.ID, []controller.NewFile{
		{RelPath: "outputs/result.csv", FileType: domain.FileTypeOutput, GroupName: "results"},
	})
	require.NoError(t, err)
	groups, err := ctrl.Store.ListGroups(ctx, req.ID)
	require.NoError(t, err)
	groupContext, groupControls := "group context", "group controls"
	require.NoError(t, ctrl.EditGroup(ctx, author, req.ID, groups[0].ID, controller.GroupProperties{Context: &groupContext, Controls: &groupControls}))
	return req, files[0]
}

func TestCreateComment_AuthorMustBePublic(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()
	req, file := createRequestWithFile(t, ctrl)

	groups, err := ctrl.Store.ListGroups(ctx, req.ID)
	require.NoError(t, err)
	_ = file

	_, err = ctrl.CreateComment(ctx, author, req.ID, groups[0].ID, "note", domain.VisibilityPrivate)
	require.Error(t, err)

	_, err = ctrl.CreateComment(ctx, author, req.ID, groups[0].ID, "note", domain.VisibilityPublic)
	require.NoError(t, err)
}

func TestPromoteComment_OnlyAuthorWithinSameTurn(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()
	req, _ := createRequestWithFile(t, ctrl)

	groups, err := ctrl.Store.ListGroups(ctx, req.ID)
	require.NoError(t, err)

	_, err = ctrl.Submit(ctx, author, req.ID)
	require.NoError(t, err)

	comment, err := ctrl.CreateComment(ctx, checker1, req.ID, groups[0].ID, "private note", domain.VisibilityPrivate)
	require.NoError(t, err)

	err = ctrl.PromoteComment(ctx, checker2, req.ID, comment.ID)
	require.Error(t, err, "only the comment author may promote it")

	err = ctrl.PromoteComment(ctx, checker1, req.ID, comment.ID)
	require.NoError(t, err)
}

func TestDeleteComment_OnlyAuthor(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()
	req, _ := createRequestWithFile(t, ctrl)

	groups, err := ctrl.Store.ListGroups(ctx, req.ID)
	require.NoError(t, err)

	comment, err := ctrl.CreateComment(ctx, author, req.ID, groups[0].ID, "note", domain.VisibilityPublic)
	require.NoError(t, err)

	err = ctrl.DeleteComment(ctx, checker1, req.ID, comment.ID)
	require.Error(t, err)

	err = ctrl.DeleteComment(ctx, author, req.ID, comment.ID)
	require.NoError(t, err)
}

func TestEditGroup_OnlyAuthorWhileEditable(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()
	req, _ := createRequestWithFile(t, ctrl)

	groups, err := ctrl.Store.ListGroups(ctx, req.ID)
	require.NoError(t, err)

	ctxStr := "analysis context"
	err = ctrl.EditGroup(ctx, checker1, req.ID, groups[0].ID, controller.GroupProperties{Context: &ctxStr})
	require.Error(t, err, "non-author cannot edit group")

	err = ctrl.EditGroup(ctx, author, req.ID, groups[0].ID, controller.GroupProperties{Context: &ctxStr})
	require.NoError(t, err)

	updated, err := ctrl.Store.ListGroups(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, ctxStr, updated[0].Context)

	_, err = ctrl.Submit(ctx, author, req.ID)
	require.NoError(t, err)

	controlsStr := "controls"
	err = ctrl.EditGroup(ctx, author, req.ID, groups[0].ID, controller.GroupProperties{Controls: &controlsStr})
	require.Error(t, err, "cannot edit group once submitted")
}

func TestUpdateFile_ResetsVotes(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()
	req, file := createRequestWithFile(t, ctrl)

	submitted, err := ctrl.Submit(ctx, author, req.ID)
	require.NoError(t, err)
	require.NoError(t, ctrl.Vote(ctx, checker1, req.ID, file.ID, domain.VoteApprove))

	_, err = ctrl.ReturnRequest(ctx, checker1, req.ID)
	require.NoError(t, err)

	_, err = ctrl.UpdateFile(ctx, author, req.ID, file.RelPath)
	require.NoError(t, err)

	votes, err := ctrl.Store.ListVotes(ctx, req.ID, submitted.ReviewTurn)
	require.NoError(t, err)
	for _, v := range votes {
		require.NotEqual(t, file.ID, v.FileID, "vote on the updated file should have been cleared")
	}
}

func TestWithdrawFile_DeletesWhilePendingTombstonesWhileReturned(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()
	req, file := createRequestWithFile(t, ctrl)

	require.NoError(t, ctrl.WithdrawFile(ctx, author, req.ID, file.RelPath))
	remaining, err := ctrl.Store.ListFiles(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 0, "withdrawing while PENDING deletes the row outright")

	_, err = ctrl.AddFiles(ctx, author, req.ID, []controller.NewFile{
		{RelPath: file.RelPath, FileType: domain.FileTypeOutput, GroupName: "results"},
	})
	require.NoError(t, err)
	_, err = ctrl.Submit(ctx, author, req.ID)
	require.NoError(t, err)
	_, err = ctrl.ReturnRequest(ctx, checker1, req.ID)
	require.NoError(t, err)

	require.NoError(t, ctrl.WithdrawFile(ctx, author, req.ID, file.RelPath))
	remaining, err = ctrl.Store.ListFiles(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.True(t, remaining[0].Withdrawn(), "withdrawing while RETURNED keeps a tombstone row")
}

func TestChangeFileProperties_MovesGroup(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()
	req, file := createRequestWithFile(t, ctrl)

	newGroup := "supplementary"
	updated, err := ctrl.ChangeFileProperties(ctx, author, req.ID, file.RelPath, controller.FileProperties{
		GroupName: &newGroup,
	})
	require.NoError(t, err)
	require.NotEqual(t, file.GroupID, updated.GroupID)

	groups, err := ctrl.Store.ListGroups(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, groups, 2)
}
