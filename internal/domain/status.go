// Package domain holds the entities, enums and owning relationships of the
// release-request lifecycle: requests, file groups, request files, votes,
// comments and audit entries.
package domain

// Status is a release request's position in the lifecycle state machine.
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusSubmitted          Status = "SUBMITTED"
	StatusPartiallyReviewed  Status = "PARTIALLY_REVIEWED"
	StatusReviewed           Status = "REVIEWED"
	StatusReturned           Status = "RETURNED"
	StatusApproved           Status = "APPROVED"
	StatusReleased           Status = "RELEASED"
	StatusRejected           Status = "REJECTED"
	StatusWithdrawn          Status = "WITHDRAWN"
)

// Terminal reports whether a request in this status can never transition
// again.
func (s Status) Terminal() bool {
	switch s {
	case StatusReleased, StatusRejected, StatusWithdrawn:
		return true
	default:
		return false
	}
}

// Owner is who holds the turn while a request sits in a given status.
type Owner string

const (
	OwnerAuthor   Owner = "author"
	OwnerReviewer Owner = "reviewer"
	OwnerSystem   Owner = "system"
)

// Owner returns the turn owner for a status, per the state machine's
// ownership table.
func (s Status) Owner() Owner {
	switch s {
	case StatusPending, StatusReturned:
		return OwnerAuthor
	case StatusSubmitted, StatusPartiallyReviewed, StatusReviewed:
		return OwnerReviewer
	default:
		return OwnerSystem
	}
}

// FileType distinguishes output files (destined for release) from
// supporting files (context only).
type FileType string

const (
	FileTypeOutput     FileType = "OUTPUT"
	FileTypeSupporting FileType = "SUPPORTING"
)

// VoteChoice is an individual reviewer's judgement on a file in the current
// turn.
type VoteChoice string

const (
	VoteApprove         VoteChoice = "APPROVE"
	VoteRequestChanges   VoteChoice = "REQUEST_CHANGES"
	VoteUndecided        VoteChoice = "UNDECIDED"
)

// Decision is the aggregated, per-file outcome once two reviews have been
// submitted for the current turn.
type Decision string

const (
	DecisionApproved          Decision = "APPROVED"
	DecisionChangesRequested  Decision = "CHANGES_REQUESTED"
	DecisionConflicted        Decision = "CONFLICTED"
	DecisionIncomplete        Decision = "INCOMPLETE"
)

// Visibility controls who can see a comment before it is promoted or the
// request re-enters an author-owned status.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityPublic  Visibility = "PUBLIC"
)

// WorkspaceFileStatus is a path's status relative to the currently active
// request on a workspace, as exposed by the Workspace View.
type WorkspaceFileStatus string

const (
	WorkspaceFileReleased    WorkspaceFileStatus = "RELEASED"
	WorkspaceFileUpdated     WorkspaceFileStatus = "UPDATED"
	WorkspaceFileUnderReview WorkspaceFileStatus = "UNDER_REVIEW"
	WorkspaceFileNone        WorkspaceFileStatus = ""
)

// UploadJobStatus is the lifecycle of a single file's upload job.
type UploadJobStatus string

const (
	UploadJobPending UploadJobStatus = "PENDING"
	UploadJobRunning UploadJobStatus = "RUNNING"
	UploadJobSucceeded UploadJobStatus = "SUCCEEDED"
	UploadJobFailed    UploadJobStatus = "FAILED"
)
