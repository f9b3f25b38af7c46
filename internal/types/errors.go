package types

import "errors"

// Failure kinds raised inside a turn. All of them are recovered by the stage that
// sees them; they surface in logs and spans, not in the turn output.
var (
	ErrClassificationFailure = errors.New("classification failure")
	ErrPlanningFailure       = errors.New("planning failure")
	ErrChannelFailure        = errors.New("retrieval channel failure")
	ErrEmptyResult           = errors.New("no candidates found")

	ErrMissingThreadID = errors.New("thread id is required")
	ErrInvalidSchema   = errors.New("structured output does not match schema")
)
