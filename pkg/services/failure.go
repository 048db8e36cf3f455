package services

import "fmt"

// FailureClass mirrors the hard/soft taxonomy: hard failures disable a
// workspace immediately, soft failures are counted and tolerated up to a
// threshold.
type FailureClass int

const (
	FailureSoft FailureClass = iota
	FailureHard
)

func (c FailureClass) String() string {
	if c == FailureHard {
		return "hard"
	}
	return "soft"
}

// PollFailure is a classified fetch failure. Reason is plain language and
// safe to surface to the workspace owner; Err carries the internal cause
// for logging.
type PollFailure struct {
	Class  FailureClass
	Reason string
	Err    error
}

func (f *PollFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s failure: %s: %v", f.Class, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s failure: %s", f.Class, f.Reason)
}

func (f *PollFailure) Unwrap() error {
	return f.Err
}

// HardFailure builds an immediately-disabling failure.
func HardFailure(reason string, err error) *PollFailure {
	return &PollFailure{Class: FailureHard, Reason: reason, Err: err}
}

// SoftFailure builds a counted, tolerated failure.
func SoftFailure(reason string, err error) *PollFailure {
	return &PollFailure{Class: FailureSoft, Reason: reason, Err: err}
}
