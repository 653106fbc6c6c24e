package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/avelis/go-tasker-notify/internal/config"
)

func preserveGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func tracingCfg(insecure bool) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: "notify-test",
		SampleRatio: 1.0,
	}
}

func TestSetupOTel_DisabledIsNoOp(t *testing.T) {
	preserveGlobals(t)

	prev := otel.GetTracerProvider()
	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false}, "v0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("disabled setup must not touch the global provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
}

func TestSetupOTel_InstallsProviderAndPropagator(t *testing.T) {
	for _, tc := range []struct {
		name     string
		insecure bool
	}{
		{"insecure", true},
		{"tls", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			preserveGlobals(t)

			shutdown, err := SetupOTel(context.Background(), tracingCfg(tc.insecure), "v1.2.3")
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
				t.Fatalf("expected *sdktrace.TracerProvider")
			}

			// Start/inject a span so the propagator path is exercised.
			carrier := propagation.MapCarrier{}
			ctx, span := otel.Tracer("setup-test").Start(context.Background(), "probe")
			span.End()
			otel.GetTextMapPropagator().Inject(ctx, carrier)
			if len(carrier) == 0 {
				t.Fatalf("propagator injected nothing")
			}
		})
	}
}

func TestSetupOTel_CanceledContextStillSucceeds(t *testing.T) {
	preserveGlobals(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // exporter construction is lazy, setup must not fail

	shutdown, err := SetupOTel(ctx, tracingCfg(true), "v0")
	if err != nil {
		t.Fatalf("unexpected err with canceled ctx: %v", err)
	}
	_ = shutdown(context.Background())
}

func TestSetupOTel_FailurePreservesGlobals(t *testing.T) {
	t.Run("exporter error", func(t *testing.T) {
		preserveGlobals(t)

		orig := newOTLPExporterFn
		t.Cleanup(func() { newOTLPExporterFn = orig })
		newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
			return nil, errors.New("exporter down")
		}

		prev := otel.GetTracerProvider()
		if _, err := SetupOTel(context.Background(), tracingCfg(true), "v0"); err == nil {
			t.Fatalf("expected error")
		}
		if otel.GetTracerProvider() != prev {
			t.Fatalf("provider replaced despite setup failure")
		}
	})

	t.Run("resource error", func(t *testing.T) {
		preserveGlobals(t)

		orig := newServiceResourceFn
		t.Cleanup(func() { newServiceResourceFn = orig })
		newServiceResourceFn = func(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
			return nil, errors.New("resource down")
		}

		prev := otel.GetTextMapPropagator()
		if _, err := SetupOTel(context.Background(), tracingCfg(true), "v0"); err == nil {
			t.Fatalf("expected error")
		}
		if otel.GetTextMapPropagator() != prev {
			t.Fatalf("propagator replaced despite setup failure")
		}
	})
}

func TestSetupOTel_ShutdownCompletes(t *testing.T) {
	preserveGlobals(t)

	shutdown, err := SetupOTel(context.Background(), tracingCfg(true), "v1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
