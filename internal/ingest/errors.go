package ingest

import (
	"context"
	"errors"
	"fmt"
)

// FailureClass buckets every way a snapshot retrieval can fail. The class
// drives the retry decision and lands in the run summary, so an operator can
// tell a hole in the published corpus from a flaky network.
type FailureClass string

const (
	FailureNotFound   FailureClass = "not_found"
	FailureTimeout    FailureClass = "timeout"
	FailureTransient  FailureClass = "transient_network"
	FailureFilesystem FailureClass = "filesystem"
	FailureCancelled  FailureClass = "cancelled"
	FailureUnknown    FailureClass = "unknown"
)

// NotFoundError means the remote does not publish this snapshot. Months that
// were never released look exactly like this, so it is permanent: retrying
// cannot make the file appear.
type NotFoundError struct {
	URL        string // The snapshot URL that was requested
	StatusCode int    // 404, or 403 which CloudFront answers for absent keys
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("snapshot not published (HTTP %d): %s", e.StatusCode, e.URL)
}

// TimeoutError means one retrieval attempt exhausted its time budget.
type TimeoutError struct {
	URL string // The snapshot URL that was being fetched
	Err error  // Underlying error, if any
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fetch timed out: %s", e.URL)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// TransientNetworkError covers connection resets, 5xx answers, rate limiting
// and truncated bodies. Another attempt may well succeed.
type TransientNetworkError struct {
	URL        string // The snapshot URL that was being fetched
	StatusCode int    // HTTP status, if the failure was an HTTP answer (0 otherwise)
	Err        error  // Underlying error, if any
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient network error (HTTP %d): %s", e.StatusCode, e.URL)
	}

	return fmt.Sprintf("transient network error: %s", e.URL)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// FilesystemError means the local side failed: probing, writing or
// publishing a snapshot. Fatal for the file; retrying the fetch cannot fix
// a bad disk.
type FilesystemError struct {
	Op   string // What was being done: "probe", "write", "publish"
	Path string // The local path involved
	Err  error  // Underlying error, if any
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of %s", e.Op, e.Path)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// ClassifyError maps any error to its failure class. Cancellation is
// recognized through errors.Is, so a bare context.Canceled from an
// interrupted run classifies without a wrapper type.
func ClassifyError(err error) FailureClass {
	var (
		notFound *NotFoundError
		timeout  *TimeoutError
		network  *TransientNetworkError
		fs       *FilesystemError
	)

	switch {
	case errors.As(err, &notFound):
		return FailureNotFound
	case errors.As(err, &timeout):
		return FailureTimeout
	case errors.As(err, &network):
		return FailureTransient
	case errors.As(err, &fs):
		return FailureFilesystem
	case errors.Is(err, context.Canceled):
		return FailureCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	default:
		return FailureUnknown
	}
}

// Retryable reports whether another attempt could plausibly succeed. Only
// timeouts and transient network failures qualify; a missing snapshot stays
// missing and a failing disk stays broken.
func Retryable(err error) bool {
	switch ClassifyError(err) {
	case FailureTimeout, FailureTransient:
		return true
	default:
		return false
	}
}
