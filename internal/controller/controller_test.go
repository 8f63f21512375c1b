package controller_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensafely-core/airlock/internal/contentstore"
	"github.com/opensafely-core/airlock/internal/controller"
	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/opensafely-core/airlock/internal/events"
	"github.com/opensafely-core/airlock/internal/store/memstore"
	"github.com/opensafely-core/airlock/internal/workspace"
	"github.com/stretchr/testify/require"
)

const testWorkspace = "study1"

var (
	author   = domain.Principal{Username: "alice", Roles: []string{"workspace-access:" + testWorkspace}}
	checker1 = domain.Principal{Username: "bob", Roles: []string{"output-checker", "workspace-access:" + testWorkspace}}
	checker2 = domain.Principal{Username: "carol", Roles: []string{"output-checker", "workspace-access:" + testWorkspace}}
)

type fakeWorkspaces struct {
	root string
}

func (f fakeWorkspaces) Get(name string) (*workspace.View, error) {
	return workspace.New(name, f.root), nil
}

func newTestController(t *testing.T) *controller.Controller {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, writeFile(dir, "outputs/result.csv", "some release-safe output"))

	contents, err := contentstore.New(t.TempDir())
	require.NoError(t, err)

	st := memstore.New()
	return controller.New(st, fakeWorkspaces{root: dir}, contents, events.NopSink, nil)
}

func writeFile(root, relpath, body string) error {
	abs := filepath.Join(root, relpath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(body), 0o644)
}

func TestFullHappyPath_ToApproved(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()

	req, err := ctrl.CreateRequest(ctx, author, testWorkspace)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, req.Status)

	files, err := ctrl.AddFiles(ctx, author, req.ID, []controller.NewFile{
		{RelPath: "outputs/result.csv", FileType: domain.FileTypeOutput, GroupName: "results"},
	})
	require.NoError(t, err)
	require.Len(t, files, 1)

	groups, err := ctrl.Store.ListGroups(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	ctxStr, controls := "context", "controls"
	require.NoError(t, ctrl.EditGroup(ctx, author, req.ID, groups[0].ID, controller.GroupProperties{
		Context: &ctxStr, Controls: &controls,
	}))

	submitted, err := ctrl.Submit(ctx, author, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSubmitted, submitted.Status)

	require.NoError(t, ctrl.Vote(ctx, checker1, req.ID, files[0].ID, domain.VoteApprove))
	afterFirst, err := ctrl.SubmitReview(ctx, checker1, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPartiallyReviewed, afterFirst.Status)

	require.NoError(t, ctrl.Vote(ctx, checker2, req.ID, files[0].ID, domain.VoteApprove))
	afterSecond, err := ctrl.SubmitReview(ctx, checker2, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusReviewed, afterSecond.Status)

	released, err := ctrl.ReleaseFiles(ctx, checker1, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusApproved, released.Status)
}

func TestCreateRequest_DeniesSecondActiveRequestOnSameWorkspace(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()

	_, err := ctrl.CreateRequest(ctx, author, testWorkspace)
	require.NoError(t, err)

	_, err = ctrl.CreateRequest(ctx, author, testWorkspace)
	require.Error(t, err)
}

func TestVote_AuthorCannotVoteOnOwnRequest(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()

	req, err := ctrl.CreateRequest(ctx, author, testWorkspace)
	require.NoError(t, err)
	files, err := ctrl.AddFiles(ctx, author, req.ID, []controller.NewFile{
		{RelPath: "outputs/result.csv", FileType: domain.FileTypeOutput, GroupName: "results"},
	})
	require.NoError(t, err)

	err = ctrl.Vote(ctx, author, req.ID, files[0].ID, domain.VoteApprove)
	require.Error(t, err)
}
