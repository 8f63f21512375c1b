package apierror

import "net/http"

// NewPermissionDenied reports that the actor lacks the capability required
// for the attempted operation.
func NewPermissionDenied(msg string) *Error {
	return newf(PermissionDenied, http.StatusForbidden, "%s", msg)
}

// NewInvalidTransition reports that the state machine rejects the
// requested transition.
func NewInvalidTransition(from, to, trigger string) *Error {
	return newf(InvalidTransition, http.StatusConflict, "cannot %s: no transition from %s to %s", trigger, from, to)
}

// NewPrecondition reports a gate failure: a missing comment, an incomplete
// group, a file not yet approved.
func NewPrecondition(msg string) *Error {
	return newf(Precondition, http.StatusPreconditionFailed, "%s", msg)
}

// NewConflict reports a concurrent modification; the caller must refresh
// and retry.
func NewConflict(msg string) *Error {
	return newf(Conflict, http.StatusConflict, "%s", msg)
}

// NewNotFound reports a missing entity, named by kind and identifier.
func NewNotFound(kind, id string) *Error {
	return newf(NotFound, http.StatusNotFound, "%s %q not found", kind, id)
}

// NewInvariant reports that an operation would violate a data-model
// invariant (F1/U1/V1) — a programmer or client error, not a user mistake.
func NewInvariant(msg string) *Error {
	return newf(Invariant, http.StatusUnprocessableEntity, "%s", msg)
}

// NewUpstream reports a failure from the external Jobs API, carrying its
// HTTP status code.
func NewUpstream(httpCode int, msg string) *Error {
	return newf(Upstream, http.StatusBadGateway, "upstream %d: %s", httpCode, msg)
}

// NewTimeout reports that an operation's deadline expired before it could
// commit.
func NewTimeout(msg string) *Error {
	return newf(Timeout, http.StatusGatewayTimeout, "%s", msg)
}

// NewInternal wraps an unexpected internal failure.
func NewInternal(err error) *Error {
	e := newf(InternalError, http.StatusInternalServerError, "internal error")
	if err != nil {
		e.Message = err.Error()
		e.InnerError = err
	}
	return e
}

// NewBadRequest reports malformed caller input. It carries the Precondition
// code; only its HTTP status (400) sets it apart from NewPrecondition.
func NewBadRequest(msg string) *Error {
	return newf(Precondition, http.StatusBadRequest, "%s", msg)
}
