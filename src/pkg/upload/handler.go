package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/twivo/twivo-media/src/pkg/auth"
	"github.com/twivo/twivo-media/src/pkg/events"
	"github.com/twivo/twivo-media/src/pkg/images/storage"
	"github.com/twivo/twivo-media/src/pkg/logging"
	"github.com/twivo/twivo-media/src/pkg/metrics"
	"github.com/twivo/twivo-media/src/pkg/ratelimit"
)

const (
	DefaultTokenHeader = "x-twivo-backend"
	DefaultMaxBytes    = 10 << 20
	DefaultChunkSize   = 64 << 10

	PathUpload       = "/upload"
	PathUploads      = "/v1/uploads"
	PathUploadStream = "/v1/uploads/stream"

	// CatalogueKeyScope separates the catalogue's rate limit budget from the
	// upload budget of the same client.
	CatalogueKeyScope = "catalogue:"
)

type Admitter interface {
	Admit(ctx context.Context, key string) ratelimit.Decision
}

type TokenVerifier interface {
	VerifyAction(token, action string) (*auth.Claim, error)
}

type Config struct {
	Limiter     Admitter
	Verifier    TokenVerifier
	Pipeline    Pipeline
	Publisher   *events.Publisher
	Metrics     *metrics.Metrics
	TokenHeader string
	MaxBytes    int64
	ChunkSize   int
	Logger      *slog.Logger
}

type Handler struct {
	limiter   Admitter
	verifier  TokenVerifier
	pipeline  Pipeline
	publisher *events.Publisher
	metrics   *metrics.Metrics
	header    string
	maxBytes  int64
	chunkSize int
	logger    *slog.Logger
}

func NewHandler(cfg Config) *Handler {
	h := &Handler{
		limiter:   cfg.Limiter,
		verifier:  cfg.Verifier,
		pipeline:  cfg.Pipeline,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		header:    cfg.TokenHeader,
		maxBytes:  cfg.MaxBytes,
		chunkSize: cfg.ChunkSize,
		logger:    cfg.Logger,
	}
	if h.header == "" {
		h.header = DefaultTokenHeader
	}
	if h.maxBytes <= 0 {
		h.maxBytes = DefaultMaxBytes
	}
	if h.chunkSize <= 0 {
		h.chunkSize = DefaultChunkSize
	}
	if h.logger == nil {
		h.logger = logging.Discard()
	}
	return h
}

// Register adds the upload routes to mux.
func (h *Handler) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method, path string
		handler      runtime.HandlerFunc
	}{
		{http.MethodPost, PathUpload, h.Upload},
		{http.MethodPost, PathUploads, h.Upload},
		{http.MethodGet, PathUploadStream, h.Stream},
	}
	for _, route := range routes {
		if err := mux.HandlePath(route.method, route.path, route.handler); err != nil {
			return err
		}
	}
	return nil
}

// ClientKey identifies the caller for rate limiting by its remote address.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Hello is the rate limited liveness route.
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if rej := h.admit(r, ClientKey(r)); rej != nil {
		writeRejection(w, rej)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("hello world!"))
}

// Upload streams the request body into a session in fixed size chunks.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	claim, rej := h.authorize(r)
	if rej != nil {
		h.reject(w, "", rej)
		return
	}

	started := time.Now()
	session := h.newSession(claim.Subject, started)
	ctx := r.Context()

	// A disconnect while the upload is being processed still aborts it.
	stop := context.AfterFunc(ctx, func() {
		session.Abort(context.Cause(ctx))
	})
	defer stop()

	buf := make([]byte, h.chunkSize)
	for {
		n, readErr := r.Body.Read(buf)
		if n > 0 {
			if writeErr := session.Write(buf[:n]); writeErr != nil {
				h.replyError(w, writeErr)
				return
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			session.Abort(readErr)
			h.replyError(w, session.Rejection())
			return
		}
	}

	result, finishErr := session.Finish(ctx, h.pipeline)
	if finishErr != nil {
		h.replyError(w, finishErr)
		return
	}
	writeSuccess(w, result)
}

func (h *Handler) newSession(owner string, started time.Time) *Session {
	return NewSession(owner, h.maxBytes, OnDone(func(result *Result, rej *RejectedError) {
		if rej != nil {
			h.publish(owner, rej)
			return
		}
		metadata := result.Metadata
		if err := h.publisher.UploadCompleted(owner, metadata.ImageID, metadata.Size, metadata.Orientation, time.Since(started)); err != nil {
			h.logger.Debug("Failed to publish event", "error", err)
		}
	}))
}

// admit applies the rate limit to key.
func (h *Handler) admit(r *http.Request, key string) *RejectedError {
	decision := h.limiter.Admit(r.Context(), key)
	h.metrics.ObserveRateLimit(decision.String())
	if decision == ratelimit.Denied {
		return Reject(ReasonRateLimited, errors.New("request limit exceeded"))
	}
	return nil
}

// authorize runs the admission gates: rate limit first, then the token.
func (h *Handler) authorize(r *http.Request) (*auth.Claim, *RejectedError) {
	return h.authorizeAction(r, ClientKey(r), auth.ActionUploadImage)
}

func (h *Handler) authorizeAction(r *http.Request, key, action string) (*auth.Claim, *RejectedError) {
	if rej := h.admit(r, key); rej != nil {
		return nil, rej
	}
	token := r.Header.Get(h.header)
	if token == "" {
		return nil, Reject(ReasonUnauthorized, errMissingToken)
	}
	claim, err := h.verifier.VerifyAction(token, action)
	if err != nil {
		return nil, Reject(ReasonUnauthorized, err)
	}
	if err := storage.CheckOwner(claim.Subject); err != nil {
		return nil, Reject(ReasonUnauthorized, err)
	}
	return claim, nil
}

// Gate applies the admission checks to catalogue requests. They are counted
// against a budget of their own so browsing cannot starve uploads.
func (h *Handler) Gate(w http.ResponseWriter, r *http.Request, action string) (string, bool) {
	claim, rej := h.authorizeAction(r, CatalogueKeyScope+ClientKey(r), action)
	if rej != nil {
		h.logger.Debug("Request refused", "path", r.URL.Path, "reason", rej.Reason, "error", rej.Err)
		writeRejection(w, rej)
		return "", false
	}
	return claim.Subject, true
}

// reject reports a rejection that happened before a session existed.
func (h *Handler) reject(w http.ResponseWriter, owner string, rej *RejectedError) {
	h.publish(owner, rej)
	writeRejection(w, rej)
}

func (h *Handler) replyError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	writeRejection(w, asRejected(err))
}

func (h *Handler) publish(owner string, rej *RejectedError) {
	if err := h.publisher.UploadRejected(owner, string(rej.Reason), rej.Err); err != nil {
		h.logger.Debug("Failed to publish event", "error", err)
	}
}
