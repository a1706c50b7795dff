package qsync

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"
)

// Error taxonomy shared by every layer. Callers classify with errors.Is.
var (
	// ErrInvalidArgument means the caller supplied a missing or malformed identifier.
	// It is never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageUnavailable is a transient disk or network condition.
	// Workers retry it under their own policy.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound means a missing object or record.
	ErrNotFound = errors.New("not found")

	// ErrPermanentFailure marks an error that survived the outer attempt budget.
	ErrPermanentFailure = errors.New("permanent failure")
)

// InvalidArgument returns an ErrInvalidArgument carrying a description.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// StorageError classifies a low-level storage error under the taxonomy.
// Missing files become ErrNotFound; everything else (disk full, permissions,
// read-only filesystems, network failures) becomes ErrStorageUnavailable.
// Errors already classified are wrapped with op and returned unchanged otherwise.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrStorageUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermanentFailure) {
		return false
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

// Outcome records the result of a best-effort sub-step. A failed Outcome never
// changes the result of the operation that produced it; it is logged and reported.
type Outcome struct {
	Step    string
	Skipped bool
	Err     error
}

// Succeeded builds a successful Outcome.
func Succeeded(step string) Outcome { return Outcome{Step: step} }

// Failed builds a failed Outcome.
func Failed(step string, err error) Outcome { return Outcome{Step: step, Err: err} }

// SkippedStep builds an Outcome for a sub-step that did not run.
func SkippedStep(step string) Outcome { return Outcome{Step: step, Skipped: true} }

// OK reports whether the step ran without error.
func (o Outcome) OK() bool { return !o.Skipped && o.Err == nil }

// Report logs a failed outcome at warn level and returns the outcome unchanged.
func (o Outcome) Report(log Logger, args ...any) Outcome {
	if o.Err != nil {
		log.Warn(o.Step+" failed", append(args, "error", o.Err)...)
	}
	return o
}
