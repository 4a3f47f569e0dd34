package supervisor

// portUnavailableError signals that no free port was found after exhausting
// all candidates; a later EnsureRunning call may try again.
type portUnavailableError struct{ base, attempts int }

func (e portUnavailableError) Error() string {
	return "no free port available for the model service"
}

// ErrPortUnavailable constructs a portUnavailableError.
func ErrPortUnavailable(base, attempts int) error {
	return portUnavailableError{base: base, attempts: attempts}
}

// IsPortUnavailable reports whether err indicates port exhaustion (503).
func IsPortUnavailable(err error) bool {
	_, ok := err.(portUnavailableError)
	return ok
}

// launchFailureError signals that the child exited immediately on start for a
// reason other than a port race; further port attempts are pointless.
type launchFailureError struct{ detail string }

func (e launchFailureError) Error() string {
	return "model service failed to start: " + e.detail
}

// ErrLaunchFailure constructs a launchFailureError.
func ErrLaunchFailure(detail string) error { return launchFailureError{detail: detail} }

// IsLaunchFailure reports whether err indicates a systemic launch failure.
func IsLaunchFailure(err error) bool {
	_, ok := err.(launchFailureError)
	return ok
}

// readinessTimeoutError signals a live child that never answered HTTP within
// the backoff window. Carries the captured log tail for diagnostics.
type readinessTimeoutError struct{ tail string }

func (e readinessTimeoutError) Error() string {
	if e.tail == "" {
		return "model service did not become ready in time"
	}
	return "model service did not become ready in time; log tail: " + e.tail
}

// ErrReadinessTimeout constructs a readinessTimeoutError.
func ErrReadinessTimeout(tail string) error { return readinessTimeoutError{tail: tail} }

// IsReadinessTimeout reports whether err indicates a readiness timeout (503).
func IsReadinessTimeout(err error) bool {
	_, ok := err.(readinessTimeoutError)
	return ok
}
