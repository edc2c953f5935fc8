package objectstore

import (
	"context"
	"errors"
	"time"

	"classifieds/internal/infrastructure/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrWrite  = errors.New("object store write failed")
	ErrDelete = errors.New("object store delete failed")
)

// Gateway stores and removes binary objects by key.
type Gateway interface {
	// Put stores data under key, overwriting any existing object, and returns the key.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Delete removes the object stored under key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
}

type instrumentedGateway struct {
	next    Gateway
	backend string
	metrics *metrics.ObjectStoreMetrics
	tracer  trace.Tracer
}

// NewInstrumentedGateway wraps a Gateway with tracing spans and Prometheus metrics.
func NewInstrumentedGateway(next Gateway, backend string, metrics *metrics.ObjectStoreMetrics) Gateway {
	return &instrumentedGateway{
		next:    next,
		backend: backend,
		metrics: metrics,
		tracer:  otel.Tracer("classifieds/objectstore"),
	}
}

func (g *instrumentedGateway) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, span := g.tracer.Start(ctx, "ObjectStore Put")
	defer span.End()

	span.SetAttributes(
		attribute.String("object.key", key),
		attribute.String("object.content_type", contentType),
		attribute.Int("object.size", len(data)),
	)

	startTime := time.Now()
	status := "success"

	defer func() {
		duration := time.Since(startTime).Seconds()
		g.metrics.OperationCount.WithLabelValues(g.backend, "put", status).Inc()
		g.metrics.OperationDuration.WithLabelValues(g.backend, "put", status).Observe(duration)
	}()

	stored, err := g.next.Put(ctx, key, data, contentType)
	if err != nil {
		status = "error"
		span.RecordError(err)
		return "", err
	}

	g.metrics.UploadedBytes.Add(float64(len(data)))
	return stored, nil
}

func (g *instrumentedGateway) Delete(ctx context.Context, key string) error {
	ctx, span := g.tracer.Start(ctx, "ObjectStore Delete")
	defer span.End()

	span.SetAttributes(attribute.String("object.key", key))

	startTime := time.Now()
	status := "success"

	defer func() {
		duration := time.Since(startTime).Seconds()
		g.metrics.OperationCount.WithLabelValues(g.backend, "delete", status).Inc()
		g.metrics.OperationDuration.WithLabelValues(g.backend, "delete", status).Observe(duration)
	}()

	if err := g.next.Delete(ctx, key); err != nil {
		status = "error"
		span.RecordError(err)
		return err
	}
	return nil
}
