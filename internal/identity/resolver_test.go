package identity

import (
	"testing"

	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestResolve_NoRequestInScope(t *testing.T) {
	res := NewResolver()
	p := domain.Principal{Username: "alice", Roles: []string{"workspace-access:study1"}}

	caps := res.Resolve(p, "study1", nil)

	assert.True(t, caps.WorkspaceAccess)
	assert.False(t, caps.OutputChecker)
	assert.False(t, caps.Copilot)
	assert.False(t, caps.IsAuthor)
}

func TestResolve_AuthorFlagSetFromRequest(t *testing.T) {
	res := NewResolver()
	p := domain.Principal{Username: "alice", Roles: []string{"workspace-access:study1"}}
	req := &domain.Request{Author: "alice"}

	caps := res.Resolve(p, "study1", req)

	assert.True(t, caps.IsAuthor)
}

func TestResolve_NonAuthorOutputChecker(t *testing.T) {
	res := NewResolver()
	p := domain.Principal{Username: "bob", Roles: []string{"output-checker", "workspace-access:study1"}}
	req := &domain.Request{Author: "alice"}

	caps := res.Resolve(p, "study1", req)

	assert.True(t, caps.OutputChecker)
	assert.False(t, caps.IsAuthor)
	assert.True(t, caps.CanActAsReviewer())
}

func TestResolve_CopilotRole(t *testing.T) {
	res := NewResolver()
	p := domain.Principal{Username: "dana", Roles: []string{"copilot:study1"}}

	caps := res.Resolve(p, "study1", nil)

	assert.True(t, caps.Copilot)
	assert.False(t, caps.WorkspaceAccess)
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check(true, "should not fire"))
	assert.Error(t, Check(false, "denied"))
}
