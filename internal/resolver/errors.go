package resolver

import "fmt"

type (
	// InvalidSourceError indicates the provided URL is malformed or points at
	// a service we cannot extract from. Never retried.
	InvalidSourceError struct{ url string }

	// BotBlockedError indicates the upstream service refused the request as
	// suspected automation. Retryable with backoff.
	BotBlockedError struct{ reason string }

	// UnavailableError indicates the content is private, removed or otherwise
	// gone. Retrying cannot succeed.
	UnavailableError struct{ reason string }

	// TransientError covers network failures and other faults which stand a
	// reasonable chance of succeeding on a subsequent attempt.
	TransientError struct{ reason string }

	// ResolutionFailedError is raised when the retry budget is exhausted
	// without a successful extraction. The last per-attempt error is wrapped.
	ResolutionFailedError struct {
		attempts int
		lastErr  error
	}

	// NoAudioFormatError indicates extraction succeeded but the payload
	// contained no usable audio stream.
	NoAudioFormatError struct{ sourceID string }
)

func (err *InvalidSourceError) Error() string {
	return fmt.Sprintf("source URL '%s' is not a recognized media URL", err.url)
}
func (err *BotBlockedError) Error() string {
	return fmt.Sprintf("extraction blocked as automated traffic: %s", err.reason)
}
func (err *UnavailableError) Error() string {
	return fmt.Sprintf("content is unavailable: %s", err.reason)
}
func (err *TransientError) Error() string {
	return fmt.Sprintf("transient extraction failure: %s", err.reason)
}
func (err *ResolutionFailedError) Error() string {
	return fmt.Sprintf("resolution failed after %d attempts: %s", err.attempts, err.lastErr.Error())
}
func (err *ResolutionFailedError) Unwrap() error { return err.lastErr }
func (err *NoAudioFormatError) Error() string {
	return fmt.Sprintf("no audio stream found for source '%s'", err.sourceID)
}

// isRetryable reports whether another attempt against the upstream service
// could plausibly produce a different outcome.
func isRetryable(err error) bool {
	switch err.(type) {
	case *BotBlockedError, *TransientError:
		return true
	default:
		return false
	}
}
