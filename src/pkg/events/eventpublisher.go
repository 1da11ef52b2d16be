package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

type Kind int

const (
	KindUploadCompleted Kind = iota
	KindUploadRejected
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindUploadCompleted:
		return "upload_completed"
	case KindUploadRejected:
		return "upload_rejected"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind        Kind
	Timestamp   time.Time
	Owner       string
	ImageID     string
	Reason      string
	Size        int64
	Orientation string
	Duration    time.Duration
	Message     string
	Resource    string
	Err         error
}

// Sink consumes published events on the publisher goroutine.
type Sink interface {
	Handle(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Handle(ev Event) { f(ev) }

type Publisher struct {
	ch      chan<- Event
	done    atomic.Bool
	dropped atomic.Uint64
	stopped chan struct{}
}

func (p *Publisher) UploadCompleted(owner, imageID string, size int64, orientation string, took time.Duration) error {
	return p.publish(Event{
		Kind:        KindUploadCompleted,
		Timestamp:   time.Now(),
		Owner:       owner,
		ImageID:     imageID,
		Size:        size,
		Orientation: orientation,
		Duration:    took,
	})
}

func (p *Publisher) UploadRejected(owner, reason string, cause error) error {
	return p.publish(Event{
		Kind:      KindUploadRejected,
		Timestamp: time.Now(),
		Owner:     owner,
		Reason:    reason,
		Err:       cause,
	})
}

func (p *Publisher) PublishError(message, resource string) error {
	return p.publish(Event{
		Kind:      KindError,
		Timestamp: time.Now(),
		Message:   message,
		Resource:  resource,
	})
}

// Dropped reports how many events were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Done is closed once the publisher has delivered its last event.
func (p *Publisher) Done() <-chan struct{} {
	return p.stopped
}

func (p *Publisher) publish(ev Event) error {
	if p == nil {
		return nil
	}
	if p.done.Load() {
		return fmt.Errorf("publisher is closed")
	}

	select {
	case p.ch <- ev:
		return nil
	default:
		p.dropped.Add(1)
		return fmt.Errorf("event queue is full, dropping event")
	}
}

// NewEventPublisher fans events out to sinks until ctx is done. Events still
// queued at that point are delivered before the publisher stops.
func NewEventPublisher(ctx context.Context, capacity int, sinks ...Sink) *Publisher {
	if capacity <= 0 {
		capacity = 100
	}
	events := make(chan Event, capacity)
	publisher := &Publisher{ch: events, stopped: make(chan struct{})}

	deliver := func(ev Event) {
		for _, sink := range sinks {
			sink.Handle(ev)
		}
	}

	go func() {
		defer close(publisher.stopped)
		for {
			select {
			case <-ctx.Done():
				publisher.done.Store(true)
				for {
					select {
					case ev := <-events:
						deliver(ev)
					default:
						return
					}
				}
			case ev := <-events:
				deliver(ev)
			}
		}
	}()

	return publisher
}

// LogSink writes every event to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Handle(ev Event) {
	switch ev.Kind {
	case KindUploadCompleted:
		s.Logger.Info("Upload completed",
			"owner", ev.Owner, "image_id", ev.ImageID, "size", ev.Size,
			"orientation", ev.Orientation, "duration", ev.Duration)
	case KindUploadRejected:
		s.Logger.Warn("Upload rejected", "owner", ev.Owner, "reason", ev.Reason, "error", ev.Err)
	case KindError:
		s.Logger.Error(ev.Message, "resource", ev.Resource)
	}
}
