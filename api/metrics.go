package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "github.com/eladsnd/sunday/api"
	requestSpanName    = "board.request"
	requestEventName   = "board.request.metrics"
	requestEventDomain = "board"
	observabilityEvent = "observability.event"
)

// requestMetrics collects the timings of one request and emits them both as
// a structured log line and as attributes of the request span.
type requestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	route  string
	method string
	userID string

	authDuration       time.Duration
	handleDuration     time.Duration
	automationFailures int
	errorStage         string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
		method: method,
	}, ctx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *requestMetrics) ObserveHandle(d time.Duration) {
	if d > 0 {
		m.handleDuration = d
	}
}

func (m *requestMetrics) SetUser(id string) { m.userID = id }

func (m *requestMetrics) SetAutomationFailures(n int) {
	if n > 0 {
		m.automationFailures = n
	}
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log ends the span and writes the metrics line.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	defer m.span.End()

	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.method", m.method),
		attribute.Int("http.status_code", status),
		attribute.Float64("board.request.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("board.request.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.handleDuration > 0 {
		attrs = append(attrs, attribute.Float64("board.request.handle_ms", durationToMillis(m.handleDuration)))
	}
	if m.userID != "" {
		attrs = append(attrs, attribute.String("enduser.id", m.userID))
	}
	if m.automationFailures > 0 {
		attrs = append(attrs, attribute.Int("board.automation.failures", m.automationFailures))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("board.request.error_stage", m.errorStage))
	}
	m.span.SetAttributes(attrs...)

	severityText, severityNumber := severityForStatus(status, err)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)

	switch {
	case err != nil:
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
		if status >= http.StatusInternalServerError || status == 0 {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Unset, "")
		}
	case status >= http.StatusInternalServerError:
		m.span.SetStatus(codes.Error, http.StatusText(status))
	default:
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))

	if m.logger == nil {
		return
	}
	logged := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		logged[string(kv.Key)] = kv.Value.AsInterface()
	}
	if err != nil {
		logged["error.message"] = err.Error()
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      logged,
	}
	if sc := m.span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityNumber), observabilityEvent)
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	}
	return "INFO", 9
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= 17:
		return log.ErrorLevel
	case n >= 13:
		return log.WarnLevel
	}
	return log.InfoLevel
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
