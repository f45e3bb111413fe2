package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "meetsync" {
		t.Errorf("expected service name 'meetsync', got '%s'", cfg.ServiceName)
	}
	if cfg.Enabled {
		t.Error("tracing should be disabled by default")
	}
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of disabled provider failed: %v", err)
	}
}

func TestSpanHelpers_NoProvider(t *testing.T) {
	ctx, span := TraceRegistryCall(context.Background(), "get_host", "m-1")
	defer span.End()

	AddSpanAttributes(ctx, attribute.String("k", "v"))
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	MeasureDuration(ctx, time.Now())

	_, frameSpan := TraceRelayFrame(ctx, "data", "state", "m-1", "a-1")
	frameSpan.End()

	_, httpSpan := TraceHTTPRequest(context.Background(), "GET", "/host/:meetingId")
	httpSpan.End()
}
