package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestPublisherDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	publisher := NewEventPublisher(ctx, 10, rec)

	require.NoError(t, publisher.UploadCompleted("u1", "img-1", 1024, "square", time.Second))
	require.NoError(t, publisher.UploadRejected("u2", "bad-format", errors.New("noise")))
	require.NoError(t, publisher.PublishError("storage failed", "img-2"))

	cancel()
	select {
	case <-publisher.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop")
	}

	got := rec.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, KindUploadCompleted, got[0].Kind)
	assert.Equal(t, "img-1", got[0].ImageID)
	assert.Equal(t, KindUploadRejected, got[1].Kind)
	assert.Equal(t, "bad-format", got[1].Reason)
	assert.Equal(t, KindError, got[2].Kind)

	assert.Error(t, publisher.PublishError("late", "x"), "closed publisher must refuse events")
}

func TestPublisherDropsWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	publisher := NewEventPublisher(ctx, 1, SinkFunc(func(Event) { <-block }))
	defer close(block)

	var dropped int
	for i := 0; i < 10; i++ {
		if err := publisher.PublishError("e", "r"); err != nil {
			dropped++
		}
	}
	assert.Positive(t, dropped)
	assert.EqualValues(t, dropped, publisher.Dropped())
}

func TestNilPublisherIsNoop(t *testing.T) {
	var publisher *Publisher
	assert.NoError(t, publisher.UploadRejected("u", "aborted", nil))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	sink.Handle(Event{Kind: KindUploadRejected, Owner: "u1", Reason: "too-large"})
	assert.Contains(t, buf.String(), "reason=too-large")
	assert.Contains(t, buf.String(), "owner=u1")
}
