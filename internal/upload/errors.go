package upload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrUnsupportedFile reports a file that fails validation. It is never retried.
	ErrUnsupportedFile = errors.New("unsupported file")

	// ErrUploadRejected reports a non-2xx answer from the upload endpoint.
	ErrUploadRejected = errors.New("upload rejected")

	// ErrClosed reports use of a coordinator after Close.
	ErrClosed = errors.New("upload coordinator closed")
)

// RejectedError carries the endpoint response for a rejected upload.
type RejectedError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %s", ErrUploadRejected, e.Status)
	}
	return fmt.Sprintf("%s: %s: %s", ErrUploadRejected, e.Status, e.Body)
}

func (e *RejectedError) Unwrap() error { return ErrUploadRejected }

// IsRetryable reports whether another attempt could plausibly succeed.
// Queued records are retried regardless; the result only shapes log hints.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedFile) || errors.Is(err, context.Canceled) {
		return false
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		switch {
		case rejected.StatusCode >= 500:
			return true
		case rejected.StatusCode == http.StatusRequestTimeout, rejected.StatusCode == http.StatusTooManyRequests:
			return true
		default:
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func errorHint(err error) string {
	if IsRetryable(err) {
		return "check network connectivity and the upload endpoint; the record will be retried"
	}
	return "the endpoint refused the file; inspect the response body and endpoint logs"
}
