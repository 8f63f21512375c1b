// Package audit names the audit-log entry kinds emitted by every mutating
// Request Controller operation (spec §4.9). It holds constants only; the
// read-side query is store.Store.ListAuditLog, served by the httpapi
// audit log route.
package audit

// Kind names a mutating operation for the purposes of the append-only
// audit log. One constant per Request Controller operation in spec §4.6,
// plus the system-driven transitions of §4.4/§4.7.
const (
	KindCreateRequest           = "create_request"
	KindAddFiles                = "add_files"
	KindUpdateFile              = "update_file"
	KindWithdrawFile            = "withdraw_file"
	KindChangeFileProperties    = "change_file_properties"
	KindEditGroup               = "edit_group"
	KindCreateComment           = "create_comment"
	KindPromoteComment          = "promote_comment"
	KindDeleteComment           = "delete_comment"
	KindVote                    = "vote"
	KindSubmitReview            = "submit_review"
	KindSubmit                  = "submit"
	KindReturnRequest           = "return_request"
	KindReject                  = "reject"
	KindReleaseFiles            = "release_files"
	KindReReleaseFiles          = "re_release_files"
	KindWithdrawRequest         = "withdraw_request"
	KindSystemFirstReview       = "system_first_review_submitted"
	KindSystemSecondReview      = "system_second_review_submitted"
	KindSystemUploadsComplete   = "system_uploads_complete"
	KindSystemUploadAttempt     = "system_upload_attempt"
)
