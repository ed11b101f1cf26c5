// Package corerr holds the sentinel errors for the distinguished error
// kinds spec.md §7 names, so callers across chat/group/message/location/
// imex can classify a failure with errors.Is instead of string matching.
package corerr

import "errors"

var (
	// ErrBadArgument is a caller violation: reserved chat id, empty name,
	// missing attachment, null message.
	ErrBadArgument = errors.New("corechat: bad argument")

	// ErrNotFound is returned when a chat/msg/contact id is not present.
	ErrNotFound = errors.New("corechat: not found")

	// ErrPrecondition covers self-not-in-group, unverified-in-verified-group,
	// not-configured, already-ongoing.
	ErrPrecondition = errors.New("corechat: precondition failed")

	// ErrIO covers database, filesystem, and copy failures.
	ErrIO = errors.New("corechat: io failure")

	// ErrDecode covers malformed setup messages, oversized KML, and
	// malformed keys.
	ErrDecode = errors.New("corechat: decode failure")

	// ErrCancelled is returned when a cooperative cancel was observed.
	ErrCancelled = errors.New("corechat: cancelled")
)
