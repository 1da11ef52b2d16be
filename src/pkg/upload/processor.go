package upload

import (
	"context"
	"fmt"

	"github.com/twivo/twivo-media/src/pkg/images"
	"github.com/twivo/twivo-media/src/pkg/images/storage"
	"github.com/twivo/twivo-media/src/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const tracerName = "github.com/twivo/twivo-media/src/pkg/upload"

// Processor runs normalization with bounded parallelism and stores results.
type Processor struct {
	normalizer *images.Normalizer
	backend    storage.Backend
	slots      *semaphore.Weighted
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

var _ Pipeline = (*Processor)(nil)

func NewProcessor(normalizer *images.Normalizer, backend storage.Backend, maxConcurrent int, m *metrics.Metrics) *Processor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Processor{
		normalizer: normalizer,
		backend:    backend,
		slots:      semaphore.NewWeighted(int64(maxConcurrent)),
		metrics:    m,
		tracer:     otel.Tracer(tracerName),
	}
}

// Normalize waits for a free slot, honouring ctx, then decodes, resizes and
// encodes data.
func (p *Processor) Normalize(ctx context.Context, data []byte) (*images.NormalizedImage, error) {
	ctx, span := p.tracer.Start(ctx, "upload.normalize", trace.WithAttributes(
		attribute.Int("upload.size", len(data)),
	))
	defer span.End()

	if err := p.slots.Acquire(ctx, 1); err != nil {
		span.SetStatus(codes.Error, "canceled while waiting for a slot")
		return nil, Reject(ReasonAborted, err)
	}
	defer p.slots.Release(1)
	defer p.metrics.TrackInflight()()

	img, err := p.normalizer.Normalize(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(ReasonOf(err)))
		return nil, Reject(ReasonOf(err), err)
	}
	span.SetAttributes(
		attribute.String("image.orientation", img.Orientation.String()),
		attribute.Int("image.width", img.Width),
		attribute.Int("image.height", img.Height),
	)
	return img, nil
}

func (p *Processor) Persist(ctx context.Context, owner string, img *images.NormalizedImage) (*storage.ImageMetadata, error) {
	ctx, span := p.tracer.Start(ctx, "upload.persist", trace.WithAttributes(
		attribute.Int("artifact.size", len(img.Data)),
	))
	defer span.End()

	metadata, err := p.backend.Store(ctx, owner, &storage.Artifact{
		Data:        img.Data,
		Width:       img.Width,
		Height:      img.Height,
		Orientation: img.Orientation.String(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}
	span.SetAttributes(attribute.String("artifact.id", metadata.ImageID))
	return metadata, nil
}
