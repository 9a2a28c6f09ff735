package engine

import "fmt"

// RuntimeError reports a violated invariant: uninitialized state,
// out-of-order levels, a batch mixing levels, double rollback arming, or
// syncing to a level below the current one. These are fatal programming
// errors and are never retried (spec.md §7).
type RuntimeError struct {
	msg string
}

func (e *RuntimeError) Error() string { return "index: " + e.msg }

func runtimeErrorf(format string, args ...any) error {
	return &RuntimeError{msg: fmt.Sprintf(format, args...)}
}
