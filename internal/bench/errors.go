package bench

import "errors"

var (
	// ErrProvisioning means no relay in the pool reached the unit's probe,
	// or the probe count could not be read to find out. The unit cannot be
	// tested as wired.
	ErrProvisioning = errors.New("bench: no relay reaches the unit's probe")
	// ErrPollTimeout means a BP cycle was still running after MaxPolls polls.
	ErrPollTimeout = errors.New("bench: BP cycle did not finish")
)

type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as stopping the worker of its unit. Other units keep going.
func Fatal(err error) error {
	if err == nil || IsFatal(err) {
		return err
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err, or anything it wraps, was marked by Fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}
