package generate

import "fmt"

// FailedError indicates the text-generation backend timed out or returned a
// non-success response. The orchestrator treats it as transient up to its
// retry ceiling.
type FailedError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *FailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed (%s): %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("generation failed (%s): %s", e.Backend, e.Reason)
}

func (e *FailedError) Unwrap() error { return e.Err }
