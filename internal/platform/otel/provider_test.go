package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigFromEnvDefaultsInactive(t *testing.T) {
	t.Setenv("TABLEMAP_OTEL_ENDPOINT", "")
	shutdown, err := Setup(context.Background(), "tablemap")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestConfigActive(t *testing.T) {
	cases := []struct {
		cfg  Config
		want bool
	}{
		{Config{Enabled: true}, false},
		{Config{Endpoint: "  ", Enabled: true}, false},
		{Config{Endpoint: "http://collector:4318", Enabled: false}, false},
		{Config{Endpoint: "http://collector:4318", Enabled: true}, true},
	}
	for _, tc := range cases {
		if got := tc.cfg.Active(); got != tc.want {
			t.Fatalf("%+v Active() = %v, want %v", tc.cfg, got, tc.want)
		}
	}
}

func TestSetupRejectsBadSampleRatio(t *testing.T) {
	_, err := SetupWithConfig(context.Background(), "tablemap", Config{
		Endpoint:    "http://192.0.2.1:4318",
		Enabled:     true,
		SampleRatio: 1.5,
	})
	if err == nil {
		t.Fatal("expected sample ratio error")
	}
}

func TestSetupRejectsMalformedEnvironment(t *testing.T) {
	t.Setenv("TABLEMAP_OTEL_SAMPLE_RATIO", "lots")
	if _, err := Setup(context.Background(), "tablemap"); err == nil {
		t.Fatal("expected env parse error")
	}
}

func TestTracerNamesComponent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(prev)

	_, span := Tracer(" command ").Start(context.Background(), "token.move")
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if got := ended[0].InstrumentationScope().Name; got != instrumentationName+"/command" {
		t.Fatalf("scope = %q", got)
	}
}
