package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rookie-ar/markerscene/pkg/core"
)

const instrumentationName = "github.com/rookie-ar/markerscene/internal/orchestrator"

type metrics struct {
	activations  metric.Int64Counter
	items        metric.Int64Counter
	loadDuration metric.Float64Histogram
}

// newMetrics uses the global meter provider, a no-op unless OTel is configured.
func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)
	var (
		out metrics
		err error
	)

	out.activations, err = m.Int64Counter(
		"orchestrator.activations",
		metric.WithDescription("Activations received, by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating activations counter: %w", err)
	}

	out.items, err = m.Int64Counter(
		"orchestrator.spawn.items",
		metric.WithDescription("Items visited by the spawn algorithm, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating items counter: %w", err)
	}

	out.loadDuration, err = m.Float64Histogram(
		"orchestrator.asset.load.duration",
		metric.WithDescription("Asset fetch and decode time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating load duration histogram: %w", err)
	}
	return &out, nil
}

func (m *metrics) activation(result string) {
	m.activations.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("result", result)))
}

func (m *metrics) item(outcome core.SpawnOutcome) {
	m.items.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (m *metrics) assetLoad(d time.Duration, err error) {
	m.loadDuration.Record(context.Background(), float64(d)/float64(time.Millisecond),
		metric.WithAttributes(attribute.Bool("ok", err == nil)))
}
