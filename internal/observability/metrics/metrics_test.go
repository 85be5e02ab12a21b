package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("channel", "upi"),
		attribute.String("student_id", "456"),
		attribute.String("operation", "collect"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "channel" && attrs[1].Key != "channel" {
		t.Fatalf("expected channel to be retained")
	}
	if attrs[0].Key != "operation" && attrs[1].Key != "operation" {
		t.Fatalf("expected operation to be retained")
	}
}

func TestRecordOnNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "bursar"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordCollection(ctx, "cash", 500000)
	m.RecordCancellation(ctx)
	m.RecordAssignment(ctx, 2, 1)
	m.RecordConflict(ctx, "collect")

	var nilMetrics *Metrics
	nilMetrics.RecordCollection(ctx, "cash", 1)
}
