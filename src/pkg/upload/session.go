package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/twivo/twivo-media/src/pkg/images"
	"github.com/twivo/twivo-media/src/pkg/images/storage"
)

type State int

const (
	StateActive State = iota
	StateRejected
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRejected:
		return "rejected"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ErrBusy is returned for chunks arriving after the final chunk was seen.
var ErrBusy = errors.New("upload is already being finalized")

// Pipeline turns an accumulated buffer into a stored artifact.
type Pipeline interface {
	Normalize(ctx context.Context, data []byte) (*images.NormalizedImage, error)
	Persist(ctx context.Context, owner string, img *images.NormalizedImage) (*storage.ImageMetadata, error)
}

type Result struct {
	Image    *images.NormalizedImage
	Metadata *storage.ImageMetadata
}

// Session accumulates one upload. It is safe for concurrent use; exactly one
// terminal transition ever happens and OnDone observes it once.
type Session struct {
	owner    string
	maxBytes int64
	onDone   func(*Result, *RejectedError)

	mu         sync.Mutex
	buf        []byte
	format     images.Format
	state      State
	rejection  *RejectedError
	result     *Result
	finishing  bool
	committing bool
}

type SessionOption func(*Session)

// OnDone registers fn to run after the terminal transition.
func OnDone(fn func(*Result, *RejectedError)) SessionOption {
	return func(s *Session) { s.onDone = fn }
}

func NewSession(owner string, maxBytes int64, opts ...SessionOption) *Session {
	s := &Session{
		owner:    owner,
		maxBytes: maxBytes,
		format:   images.FormatUnknown,
		state:    StateActive,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Owner() string { return s.owner }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.buf))
}

func (s *Session) Format() images.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Rejection is the terminal failure, or nil.
func (s *Session) Rejection() *RejectedError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejection
}

// Write appends chunk. It returns the session's rejection once the session
// is terminal, whether caused by this chunk or earlier.
func (s *Session) Write(chunk []byte) error {
	s.mu.Lock()
	if s.state != StateActive {
		defer s.mu.Unlock()
		return s.terminalErr()
	}
	if s.finishing {
		s.mu.Unlock()
		return ErrBusy
	}

	if int64(len(s.buf))+int64(len(chunk)) > s.maxBytes {
		rej := Reject(ReasonTooLarge, fmt.Errorf("upload exceeds %d bytes", s.maxBytes))
		s.rejectLocked(rej)
		s.mu.Unlock()
		s.notify(nil, rej)
		return rej
	}
	s.buf = append(s.buf, chunk...)

	if s.format == images.FormatUnknown && len(s.buf) >= images.SniffThreshold {
		format := images.Sniff(s.buf)
		if format == images.FormatUnknown {
			rej := Reject(ReasonBadFormat, errors.New("unrecognized image signature"))
			s.rejectLocked(rej)
			s.mu.Unlock()
			s.notify(nil, rej)
			return rej
		}
		s.format = format
	}
	s.mu.Unlock()
	return nil
}

// Finish handles the final-chunk marker: it normalizes the buffer and
// persists the artifact. An Abort that lands while normalization runs wins;
// once persisting has begun, Abort has no effect.
func (s *Session) Finish(ctx context.Context, pipeline Pipeline) (*Result, error) {
	s.mu.Lock()
	if s.state != StateActive {
		defer s.mu.Unlock()
		return s.result, s.terminalErr()
	}
	if s.finishing {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if s.format == images.FormatUnknown {
		rej := Reject(ReasonBadFormat, fmt.Errorf("stream ended after %d bytes without a recognizable signature", len(s.buf)))
		s.rejectLocked(rej)
		s.mu.Unlock()
		s.notify(nil, rej)
		return nil, rej
	}
	s.finishing = true
	data := s.buf
	s.mu.Unlock()

	img, normErr := pipeline.Normalize(ctx, data)

	s.mu.Lock()
	if s.state != StateActive {
		defer s.mu.Unlock()
		return nil, s.terminalErr()
	}
	if normErr != nil {
		rej := asRejected(normErr)
		s.rejectLocked(rej)
		s.mu.Unlock()
		s.notify(nil, rej)
		return nil, rej
	}
	s.committing = true
	s.buf = nil
	s.mu.Unlock()

	metadata, persistErr := pipeline.Persist(context.WithoutCancel(ctx), s.owner, img)

	s.mu.Lock()
	if persistErr != nil {
		rej := Reject(ReasonStorageError, persistErr)
		s.rejectLocked(rej)
		s.mu.Unlock()
		s.notify(nil, rej)
		return nil, rej
	}
	result := &Result{Image: img, Metadata: metadata}
	s.state = StateCompleted
	s.result = result
	s.mu.Unlock()
	s.notify(result, nil)
	return result, nil
}

// Abort ends the session because the client went away. It reports whether
// this call performed the terminal transition.
func (s *Session) Abort(cause error) bool {
	if cause == nil {
		cause = errors.New("client disconnected")
	}
	return s.fail(Reject(ReasonAborted, cause))
}

// fail rejects an active session that is not yet persisting.
func (s *Session) fail(rej *RejectedError) bool {
	s.mu.Lock()
	if s.state != StateActive || s.committing {
		s.mu.Unlock()
		return false
	}
	s.rejectLocked(rej)
	s.mu.Unlock()
	s.notify(nil, rej)
	return true
}

func (s *Session) rejectLocked(rej *RejectedError) {
	s.state = StateRejected
	s.rejection = rej
	s.buf = nil
}

func (s *Session) terminalErr() error {
	if s.state == StateRejected {
		return s.rejection
	}
	return nil
}

func (s *Session) notify(result *Result, rej *RejectedError) {
	if s.onDone != nil {
		s.onDone(result, rej)
	}
}
