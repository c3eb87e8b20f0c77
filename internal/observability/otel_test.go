package observability

import (
	"context"
	"testing"
)

func TestInitOTelDisabledIsNoop(t *testing.T) {
	shutdown := InitOTel(context.Background(), nil, OtelConfig{Enabled: false})
	if shutdown == nil {
		t.Fatalf("shutdown must never be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	// The global no-op tracer still hands out spans.
	_, span := Tracer().Start(context.Background(), "ping")
	span.End()
}

func TestOtelHeaders(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "a=1, b = 2 ,broken,=x,c=")
	h := otelHeaders()
	if len(h) != 2 || h["a"] != "1" || h["b"] != "2" {
		t.Fatalf("headers: got=%v", h)
	}
}

func TestOtelSampleRatioClamps(t *testing.T) {
	cases := map[string]float64{"": 0.1, "bogus": 0.1, "-3": 0, "7": 1, "0.5": 0.5}
	for raw, want := range cases {
		t.Setenv("OTEL_SAMPLER_RATIO", raw)
		if got := otelSampleRatio(); got != want {
			t.Fatalf("ratio(%q): want=%v got=%v", raw, want, got)
		}
	}
}
