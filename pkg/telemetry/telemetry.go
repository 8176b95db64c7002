package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

// Init configures OpenTelemetry tracing, propagation, and structured logging
// for a service. It returns a tracer shutdown func, an HTTP middleware that
// traces and access-logs every request, and a logger whose output is one JSON
// line per entry. Messages written as "LEVEL rest..." carry the level into
// the entry; everything else logs at INFO.
func Init(ctx context.Context, serviceName string) (func(context.Context) error, func(http.Handler) http.Handler, *log.Logger, error) {
	if serviceName == "" {
		return nil, nil, nil, errors.New("telemetry: service name is required")
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return nil, nil, nil, errors.New("telemetry: OTEL_EXPORTER_OTLP_ENDPOINT is not set")
	}

	exporter, err := newTraceExporter(ctx, endpoint)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	sink := newLogSink(serviceName, os.Stdout)
	logger := log.New(sink, "", 0)

	return provider.Shutdown, accessLog(serviceName, sink), logger, nil
}

// accessLog wraps a handler in otelhttp tracing and emits one JSON access
// line per request with the active trace id.
func accessLog(serviceName string, sink *logSink) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			var traceID string
			if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.IsValid() {
				traceID = sc.TraceID().String()
			}

			msg := fmt.Sprintf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
			if err := sink.emit("INFO", msg, traceID); err != nil {
				fmt.Fprintf(os.Stderr, "telemetry: write access log: %v\n", err)
			}
		})
		return otelhttp.NewHandler(h, serviceName)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func newTraceExporter(ctx context.Context, endpoint string) (*otlptrace.Exporter, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" {
		// Bare host:port, assume plaintext.
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint: %s", endpoint)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(parsed.Host)}
	if parsed.Path != "" && parsed.Path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(parsed.Path))
	}
	if parsed.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

type logEntry struct {
	TS      string `json:"ts"`
	Level   string `json:"level"`
	Service string `json:"service"`
	Msg     string `json:"msg"`
	TraceID string `json:"trace_id,omitempty"`
}

// logSink serializes log entries as JSON lines. It implements io.Writer so a
// *log.Logger can write through it.
type logSink struct {
	mu      sync.Mutex
	service string
	out     io.Writer
}

func newLogSink(service string, out io.Writer) *logSink {
	if out == nil {
		out = os.Stdout
	}
	return &logSink{service: service, out: out}
}

func (s *logSink) Write(p []byte) (int, error) {
	level, msg := splitLevel(strings.TrimSpace(string(p)))
	if err := s.emit(level, msg, ""); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *logSink) emit(level, msg, traceID string) error {
	data, err := json.Marshal(logEntry{
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level,
		Service: s.service,
		Msg:     msg,
		TraceID: traceID,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.out.Write(append(data, '\n'))
	return err
}

// splitLevel peels a leading level token off a log message. Loggers here
// write "INFO did the thing" or "WARN something odd"; anything without a
// recognized leading token falls through at INFO.
func splitLevel(msg string) (string, string) {
	if msg == "" {
		return "INFO", ""
	}
	first, rest, ok := strings.Cut(msg, " ")
	if !ok {
		first, rest = msg, ""
	}
	switch level := strings.ToUpper(strings.TrimSuffix(first, ":")); level {
	case "INFO", "WARN", "WARNING", "ERROR", "DEBUG":
		return level, strings.TrimSpace(rest)
	}
	return "INFO", msg
}
