package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	cortex "github.com/nevindra/cortex"
)

// ObservedEngine wraps a cortex.Engine with OTEL instrumentation.
type ObservedEngine struct {
	inner cortex.Engine
	inst  *Instruments
}

var _ cortex.Engine = (*ObservedEngine)(nil)

// WrapEngine returns an instrumented engine that emits traces and metrics.
func WrapEngine(inner cortex.Engine, inst *Instruments) *ObservedEngine {
	return &ObservedEngine{inner: inner, inst: inst}
}

func (o *ObservedEngine) Name() string { return o.inner.Name() }

func (o *ObservedEngine) Complete(ctx context.Context, req cortex.CompletionRequest) (cortex.CompletionResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		AttrLLMBackend.String(o.inner.Name()),
		AttrPromptLength.Int(len(req.Prompt)),
	))
	defer span.End()
	start := time.Now()

	res, err := o.inner.Complete(ctx, req)

	o.record(ctx, span, "complete", err, time.Since(start), len(res.Text))
	return res, err
}

func (o *ObservedEngine) Chat(ctx context.Context, req cortex.ChatRequest) (cortex.ChatResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		AttrLLMBackend.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	res, err := o.inner.Chat(ctx, req)

	o.record(ctx, span, "chat", err, time.Since(start), len(res.Content))
	return res, err
}

func (o *ObservedEngine) Health(ctx context.Context) error {
	return o.inner.Health(ctx)
}

func (o *ObservedEngine) record(ctx context.Context, span trace.Span, method string, err error, elapsed time.Duration, resultLen int) {
	durationMs := float64(elapsed.Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrResultLength.Int(resultLen))

	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMBackend.String(o.inner.Name()),
		AttrLLMMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrLLMBackend.String(o.inner.Name()),
		AttrLLMMethod.String(method),
	))
}
