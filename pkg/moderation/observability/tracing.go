package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the name of the tracer for moderation operations.
const TracerName = "moderation"

// Span attribute keys
const (
	AttrCommentID   = "comment_id"
	AttrDocumentID  = "document_id"
	AttrContentType = "content_type"
	AttrModel       = "model"
	AttrOutcome     = "outcome"
	AttrConfidence  = "confidence"
	AttrTrigger     = "trigger"
	AttrErrorCode   = "error_code"
	AttrRetryable   = "retryable"
)

// Span names
const (
	SpanModerateComment = "moderation.moderate_comment"
	SpanClassify        = "moderation.classify"
	SpanEvaluate        = "moderation.evaluate"
	SpanSweep           = "moderation.sweep"
)

// Tracer provides distributed tracing for moderation operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a moderation tracer off the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartModerationSpan starts the root span for moderating one comment.
// trigger names what fired the unit: deferred, sweep, manual.
func (t *Tracer) StartModerationSpan(ctx context.Context, commentID int64, trigger string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanModerateComment,
		trace.WithAttributes(
			attribute.Int64(AttrCommentID, commentID),
			attribute.String(AttrTrigger, trigger),
		),
	)
}

// StartClassifySpan starts a span around the classification API call.
func (t *Tracer) StartClassifySpan(ctx context.Context, commentID int64, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanClassify,
		trace.WithAttributes(
			attribute.Int64(AttrCommentID, commentID),
			attribute.String(AttrModel, model),
		),
	)
}

// StartSweepSpan starts a span for one periodic sweep run.
func (t *Tracer) StartSweepSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanSweep)
}

// SetOutcome records the applied outcome on the span.
func SetOutcome(span trace.Span, outcome string, confidence float64) {
	span.SetAttributes(
		attribute.String(AttrOutcome, outcome),
		attribute.Float64(AttrConfidence, confidence),
	)
	span.SetStatus(codes.Ok, "")
}

// SetFailure records a classification failure on the span.
func SetFailure(span trace.Span, err error, code string, retryable bool) {
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.Bool(AttrRetryable, retryable),
	)
	span.RecordError(err)
}

// TraceID returns the trace ID from the context, or empty.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
