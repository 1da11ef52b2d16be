package upload

import (
	"errors"
	"fmt"

	"github.com/twivo/twivo-media/src/pkg/auth"
	"github.com/twivo/twivo-media/src/pkg/images"
)

// Reason is the closed set of rejection causes reported to clients.
type Reason string

const (
	ReasonUnauthorized Reason = "unauthorized"
	ReasonRateLimited  Reason = "rate-limited"
	ReasonBadFormat    Reason = "bad-format"
	ReasonTooLarge     Reason = "too-large"
	ReasonOversized    Reason = "oversized"
	ReasonUnreadable   Reason = "unreadable"
	ReasonDecodeError  Reason = "decode-error"
	ReasonEncodeError  Reason = "encode-error"
	ReasonStorageError Reason = "storage-error"
	ReasonAborted      Reason = "aborted"
)

// RejectedError is the terminal failure of an upload.
type RejectedError struct {
	Reason Reason
	Err    error
}

func Reject(reason Reason, err error) *RejectedError {
	return &RejectedError{Reason: reason, Err: err}
}

func (e *RejectedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Message is the short human readable text sent to clients.
func (e *RejectedError) Message() string {
	switch e.Reason {
	case ReasonUnauthorized:
		if errors.Is(e.Err, errMissingToken) {
			return "Missing JWT token"
		}
		return "Invalid or expired token"
	case ReasonRateLimited:
		return "Too many requests"
	case ReasonTooLarge:
		return "File too large"
	case ReasonBadFormat:
		return "Invalid or unsupported image"
	case ReasonOversized, ReasonUnreadable, ReasonDecodeError, ReasonEncodeError:
		return "Failed to process image"
	case ReasonStorageError:
		return "Failed to save file"
	case ReasonAborted:
		return "Upload aborted"
	default:
		return "Upload failed"
	}
}

var errMissingToken = errors.New("missing token")

// ReasonOf classifies err. Errors that carry no rejection reason are treated
// as storage failures.
func ReasonOf(err error) Reason {
	var rejected *RejectedError
	switch {
	case errors.As(err, &rejected):
		return rejected.Reason
	case errors.Is(err, auth.ErrUnauthorized):
		return ReasonUnauthorized
	case errors.Is(err, images.ErrOversized):
		return ReasonOversized
	case errors.Is(err, images.ErrUnreadable):
		return ReasonUnreadable
	case errors.Is(err, images.ErrDecode):
		return ReasonDecodeError
	case errors.Is(err, images.ErrEncode):
		return ReasonEncodeError
	default:
		return ReasonStorageError
	}
}

// asRejected wraps err with its reason unless it already is a rejection.
func asRejected(err error) *RejectedError {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected
	}
	return Reject(ReasonOf(err), err)
}
