// Package statemachine is the authoritative table of legal release-request
// status transitions (spec §4.4) expressed as data, not a dynamic
// dispatch-on-status map, per spec §9's redesign note: a tagged Status sum
// with a transition table evaluated by a single pure function.
package statemachine

import (
	"fmt"

	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/domain"
)

// Actor is the role permitted to drive a given transition.
type Actor string

const (
	ActorAuthor  Actor = "A"   // the request's author
	ActorChecker Actor = "C"   // any output-checker other than the author
	ActorSystem  Actor = "SYS" // the system itself, never a human caller
)

// Trigger names the operation that drives a transition. Evaluate and
// CanAct match it against the table, and it appears in error messages.
type Trigger string

const (
	TriggerSubmit        Trigger = "submit"
	TriggerWithdraw      Trigger = "withdraw-request"
	TriggerFirstReview   Trigger = "first-checker-submits"
	TriggerSecondReview  Trigger = "second-checker-submits"
	TriggerEarlyReturn   Trigger = "early-return"
	TriggerRelease       Trigger = "release-files"
	TriggerReject        Trigger = "reject"
	TriggerReturn        Trigger = "return"
	TriggerResubmit      Trigger = "resubmit"
	TriggerUploadsDone   Trigger = "all-uploads-succeeded"
)

type transition struct {
	From    domain.Status
	To      domain.Status
	Actor   Actor
	Trigger Trigger
}

// table is the literal transition table from spec §4.4.
var table = []transition{
	{domain.StatusPending, domain.StatusSubmitted, ActorAuthor, TriggerSubmit},
	{domain.StatusPending, domain.StatusWithdrawn, ActorAuthor, TriggerWithdraw},
	{domain.StatusSubmitted, domain.StatusPartiallyReviewed, ActorSystem, TriggerFirstReview},
	{domain.StatusSubmitted, domain.StatusReturned, ActorChecker, TriggerEarlyReturn},
	{domain.StatusPartiallyReviewed, domain.StatusReviewed, ActorSystem, TriggerSecondReview},
	{domain.StatusPartiallyReviewed, domain.StatusReturned, ActorChecker, TriggerEarlyReturn},
	{domain.StatusReviewed, domain.StatusApproved, ActorChecker, TriggerRelease},
	{domain.StatusReviewed, domain.StatusRejected, ActorChecker, TriggerReject},
	{domain.StatusReviewed, domain.StatusReturned, ActorChecker, TriggerReturn},
	{domain.StatusReturned, domain.StatusSubmitted, ActorAuthor, TriggerResubmit},
	{domain.StatusReturned, domain.StatusWithdrawn, ActorAuthor, TriggerWithdraw},
	{domain.StatusApproved, domain.StatusReleased, ActorSystem, TriggerUploadsDone},
}

// incrementsReviewTurn reports whether moving from `from` to `to` is one
// of the three transitions §3/§4.4 name as incrementing review_turn:
// PENDING→SUBMITTED, any→RETURNED, or RETURNED→SUBMITTED. Every other
// ownership change — including the system/terminal transitions
// REVIEWED→APPROVED, REVIEWED→REJECTED, and (PENDING|RETURNED)→WITHDRAWN —
// leaves review_turn untouched even though it also moves the status
// between owners.
func incrementsReviewTurn(from, to domain.Status) bool {
	switch {
	case from == domain.StatusPending && to == domain.StatusSubmitted:
		return true
	case to == domain.StatusReturned:
		return true
	case from == domain.StatusReturned && to == domain.StatusSubmitted:
		return true
	default:
		return false
	}
}

// Evaluate checks whether `trigger` may move a request from `from` to `to`
// as `actor`, returning the transition's resulting review turn delta (0 or
// 1) on success, or a typed error on failure. It never mutates state — the
// caller applies the result inside its own transaction.
func Evaluate(from, to domain.Status, actor Actor, trigger Trigger) (turnDelta int, err error) {
	for _, t := range table {
		if t.From == from && t.To == to && t.Trigger == trigger {
			if t.Actor != actor {
				return 0, apierror.NewPermissionDenied(
					fmt.Sprintf("%s may not perform %s (requires %s)", actor, trigger, t.Actor))
			}
			delta := 0
			if incrementsReviewTurn(from, to) {
				delta = 1
			}
			return delta, nil
		}
	}
	return 0, apierror.NewInvalidTransition(string(from), string(to), string(trigger))
}

// CanAct reports whether `actor` may drive `trigger` starting from `from`,
// without committing to a specific destination status — used by read-side
// permission checks (e.g. to grey out a button) rather than by the
// controller, which always calls Evaluate with both endpoints known.
func CanAct(from domain.Status, actor Actor, trigger Trigger) bool {
	for _, t := range table {
		if t.From == from && t.Trigger == trigger {
			return t.Actor == actor
		}
	}
	return false
}
