package upload

import (
	"log/slog"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ErrorDomain = "twivo-media"

	SuccessMessage = "Upload successful"
	ImageIDHeader  = "X-Image-Id"

	// StatusClientClosedRequest is the non standard status logged for uploads
	// the client abandoned.
	StatusClientClosedRequest = 499
)

var replyMarshaler = &runtime.JSONPb{}

// HTTPStatus maps a rejection reason onto the response status code.
func HTTPStatus(reason Reason) int {
	switch reason {
	case ReasonUnauthorized:
		return http.StatusUnauthorized
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	case ReasonBadFormat:
		return http.StatusUnsupportedMediaType
	case ReasonTooLarge:
		return http.StatusRequestEntityTooLarge
	case ReasonOversized, ReasonUnreadable, ReasonDecodeError:
		return http.StatusUnprocessableEntity
	case ReasonAborted:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(reason Reason) codes.Code {
	switch reason {
	case ReasonUnauthorized:
		return codes.Unauthenticated
	case ReasonRateLimited, ReasonTooLarge:
		return codes.ResourceExhausted
	case ReasonBadFormat, ReasonOversized, ReasonUnreadable, ReasonDecodeError:
		return codes.InvalidArgument
	case ReasonAborted:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// StatusOf renders rej as a google.rpc.Status carrying an ErrorInfo detail.
func StatusOf(rej *RejectedError) *status.Status {
	st := status.New(grpcCode(rej.Reason), rej.Message())
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason: string(rej.Reason),
		Domain: ErrorDomain,
	})
	if err != nil {
		return st
	}
	return detailed
}

func writeRejection(w http.ResponseWriter, rej *RejectedError) {
	body, err := replyMarshaler.Marshal(StatusOf(rej).Proto())
	if err != nil {
		http.Error(w, rej.Message(), HTTPStatus(rej.Reason))
		return
	}
	w.Header().Set("Content-Type", replyMarshaler.ContentType(nil))
	w.WriteHeader(HTTPStatus(rej.Reason))
	if _, writeErr := w.Write(body); writeErr != nil {
		slog.Debug("Failed to write rejection", "reason", rej.Reason, "error", writeErr)
	}
}

func writeSuccess(w http.ResponseWriter, result *Result) {
	if result != nil && result.Metadata != nil {
		w.Header().Set(ImageIDHeader, result.Metadata.ImageID)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(SuccessMessage))
}
