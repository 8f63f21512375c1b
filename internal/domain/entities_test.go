package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGroup_Complete(t *testing.T) {
	assert.False(t, Group{}.Complete())
	assert.False(t, Group{Context: "why"}.Complete())
	assert.False(t, Group{Controls: "how"}.Complete())
	assert.True(t, Group{Context: "why", Controls: "how"}.Complete())
}

func TestFile_WithdrawnAndUploaded(t *testing.T) {
	f := File{}
	assert.False(t, f.Withdrawn())
	assert.False(t, f.Uploaded())

	now := time.Now()
	f.WithdrawnAt = &now
	assert.True(t, f.Withdrawn())

	f2 := File{UploadedAt: &now}
	assert.True(t, f2.Uploaded())
}

func TestPrincipal_RoleChecks(t *testing.T) {
	p := Principal{
		Username: "alice",
		Roles:    []string{"workspace-access:study1", "output-checker", "copilot:study2"},
	}

	assert.True(t, p.HasWorkspaceAccess("study1"))
	assert.False(t, p.HasWorkspaceAccess("study2"))
	assert.True(t, p.IsOutputChecker())
	assert.True(t, p.IsCopilot("study2"))
	assert.False(t, p.IsCopilot("study1"))
	assert.False(t, p.HasRole("nonexistent-role"))
}

func TestCapabilities_CanActAsReviewer(t *testing.T) {
	assert.True(t, Capabilities{OutputChecker: true, IsAuthor: false}.CanActAsReviewer())
	assert.False(t, Capabilities{OutputChecker: true, IsAuthor: true}.CanActAsReviewer())
	assert.False(t, Capabilities{OutputChecker: false, IsAuthor: false}.CanActAsReviewer())
}
