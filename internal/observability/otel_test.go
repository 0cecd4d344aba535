package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tbourn/pdf-chat-backend/internal/config"
)

// keepGlobals restores the global provider, propagator and seams after t.
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	exp, res := newOTLPExporterFn, newServiceResourceFn
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
		newOTLPExporterFn, newServiceResourceFn = exp, res
	})
}

func otelCfg(enabled, insecure bool) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     enabled,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: "pdfchat-api",
		SampleRatio: 0.25,
	}
}

func TestSetupOTel(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := []struct {
		name        string
		ctx         context.Context
		cfg         config.OTELConfig
		installsSDK bool
	}{
		{"disabled leaves globals", context.Background(), otelCfg(false, true), false},
		{"insecure", context.Background(), otelCfg(true, true), true},
		{"tls", context.Background(), otelCfg(true, false), true},
		// the grpc client dials lazily, so a dead context still configures
		{"canceled ctx", canceled, otelCfg(true, true), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keepGlobals(t)
			before := otel.GetTracerProvider()

			shutdown, err := SetupOTel(tc.ctx, tc.cfg, "1.2.3")
			if err != nil {
				t.Fatalf("SetupOTel: %v", err)
			}
			_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
			if isSDK != tc.installsSDK {
				t.Fatalf("sdk provider installed = %v; want %v", isSDK, tc.installsSDK)
			}
			if !tc.installsSDK && otel.GetTracerProvider() != before {
				t.Fatalf("disabled setup replaced the provider")
			}
			if tc.installsSDK {
				fields := otel.GetTextMapPropagator().Fields()
				if !strings.Contains(strings.Join(fields, ","), "traceparent") {
					t.Fatalf("propagator fields = %v; want traceparent", fields)
				}
				_, span := otel.Tracer("test").Start(context.Background(), "query")
				span.End()
			}

			sctx, scancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer scancel()
			if err := shutdown(sctx); err != nil {
				t.Fatalf("shutdown: %v", err)
			}
		})
	}
}

func TestSetupOTel_SeamFailuresLeaveGlobals(t *testing.T) {
	boom := errors.New("boom")
	cases := map[string]func(){
		"exporter": func() {
			newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) { return nil, boom }
		},
		"resource": func() {
			newServiceResourceFn = func(context.Context, string, string) (*resource.Resource, error) { return nil, boom }
		},
	}
	for name, inject := range cases {
		t.Run(name, func(t *testing.T) {
			keepGlobals(t)
			before := otel.GetTracerProvider()
			inject()

			shutdown, err := SetupOTel(context.Background(), otelCfg(true, true), "1.2.3")
			if !errors.Is(err, boom) || shutdown != nil {
				t.Fatalf("got (%v, %v); want (nil, boom)", shutdown != nil, err)
			}
			if otel.GetTracerProvider() != before {
				t.Fatalf("provider replaced after failed setup")
			}
		})
	}
}

func TestServiceResource_Attributes(t *testing.T) {
	res, err := newServiceResourceFn(context.Background(), "pdfchat-api", "1.2.3")
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	want := map[string]string{
		string(semconv.ServiceNameKey):      "pdfchat-api",
		string(semconv.ServiceVersionKey):   "1.2.3",
		string(semconv.ServiceNamespaceKey): "pdfchat",
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %q; want %q", k, got[k], v)
		}
	}
}

func TestSampler_Clamps(t *testing.T) {
	cases := map[float64]string{
		1.5: "ParentBased{root:AlwaysOnSampler",
		1:   "ParentBased{root:AlwaysOnSampler",
		0:   "ParentBased{root:AlwaysOffSampler",
		-1:  "ParentBased{root:AlwaysOffSampler",
		0.5: "ParentBased{root:TraceIDRatioBased{0.5}",
	}
	for ratio, prefix := range cases {
		if got := sampler(ratio).Description(); !strings.HasPrefix(got, prefix) {
			t.Fatalf("sampler(%v) = %q; want prefix %q", ratio, got, prefix)
		}
	}
}

func TestTraceHook_AddsIDsOnlyWithSpan(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Hook(TraceHook{})

	l.Info().Msg("no ctx")
	var line map[string]any
	_ = json.Unmarshal(buf.Bytes(), &line)
	if _, ok := line["trace_id"]; ok {
		t.Fatalf("unexpected trace_id without span: %v", line)
	}

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("hook").Start(context.Background(), "op")
	defer span.End()

	buf.Reset()
	l.Info().Ctx(ctx).Msg("with span")
	line = nil
	_ = json.Unmarshal(buf.Bytes(), &line)
	if line["trace_id"] != span.SpanContext().TraceID().String() || line["span_id"] != span.SpanContext().SpanID().String() {
		t.Fatalf("ids missing: %v", line)
	}
}
