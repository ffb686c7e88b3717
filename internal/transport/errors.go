package transport

import (
	"errors"
	"fmt"
)

// FailureKind classifies a per-recipient delivery failure by the
// platform's reported condition.
type FailureKind string

const (
	// FailureForbidden: the recipient blocked the bot (HTTP 403).
	FailureForbidden FailureKind = "forbidden"
	// FailureNotFound: the recipient account no longer exists (HTTP 404).
	FailureNotFound FailureKind = "not_found"
	// FailureBadRequest: the chat cannot be addressed at all (HTTP 400).
	FailureBadRequest FailureKind = "bad_request"
	// FailureOther: anything else, including timeouts and flood waits.
	FailureOther FailureKind = "other"
)

// Failure is a classified per-recipient delivery error. The dispatcher
// counts these and keeps going; it never treats them as fatal.
type Failure struct {
	Kind FailureKind
	Code int
	Err  error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("delivery failed (%s): %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("delivery failed (%s)", f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// ErrUnavailable signals the transport itself cannot be reached. Unlike a
// per-recipient Failure it aborts the remainder of a dispatch run.
var ErrUnavailable = errors.New("transport unavailable")

// KindOf extracts the failure kind from an error returned by an Adapter
// send call. Unclassified errors map to FailureOther.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureOther
}
