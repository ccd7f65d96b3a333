package sync

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (spec §7), wrapped with context via fmt.Errorf and
// unwrapped with errors.Is, so the orchestrator's retry policy can switch
// on kind instead of string-matching the way the teacher's
// DeleteCoordinator distinguishes failure/verification by control flow.
//
// Feature-disabled and unknown/disallowed-authority rejections are not
// sentinel errors: CloudState.SetCloudProvider reports both as a bare
// (false, nil), per §7's "no exceptions cross the controller boundary for
// routine failures" — there's nothing exceptional about a caller probing
// an authority the allow-list doesn't recognize.
var (
	// ErrRequestObsolete means the cloud provider changed mid-operation.
	ErrRequestObsolete = errors.New("sync: request obsolete, provider changed mid-operation")

	// ErrIllegalState means malformed collection info, a collection id
	// mismatch across pages, an unhonored required arg, or a repeated
	// page token.
	ErrIllegalState = errors.New("sync: illegal state")

	// ErrTransientRuntime wraps any other provider/DB failure.
	ErrTransientRuntime = errors.New("sync: transient runtime failure")

	// ErrDbOperationUnopenable means the engine could not open a DB write
	// operation (IllegalArgument at the facade boundary).
	ErrDbOperationUnopenable = errors.New("sync: db write operation could not be opened")
)

// wrap attaches msg and cause to sentinel so errors.Is(err, sentinel)
// still succeeds after wrapping.
func wrap(sentinel error, msg string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", msg, sentinel)
	}
	return fmt.Errorf("%s: %w: %v", msg, sentinel, cause)
}

// retryable reports whether the orchestrator's one-reset-and-retry policy
// applies to err (spec §4.F, §7): IllegalState and TransientRuntime do,
// RequestObsolete and everything else does not.
func retryable(err error) bool {
	return errors.Is(err, ErrIllegalState) || errors.Is(err, ErrTransientRuntime)
}
