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

// ObservedTool wraps a cortex.Tool with OTEL instrumentation.
type ObservedTool struct {
	inner cortex.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner cortex.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

// Tool returns the wrapper as a registrable cortex.Tool.
func (o *ObservedTool) Tool() cortex.Tool {
	return cortex.Tool{Name: o.Name(), Description: o.Description(), Invoke: o.Invoke}
}

// WrapRegistry returns a registry with every tool wrapped.
func WrapRegistry(reg *cortex.ToolRegistry, inst *Instruments) (*cortex.ToolRegistry, error) {
	wrapped := cortex.NewToolRegistry()
	for _, name := range reg.Names() {
		t, _ := reg.Get(name)
		if err := wrapped.Register(WrapTool(t, inst).Tool()); err != nil {
			return nil, err
		}
	}
	return wrapped, nil
}

func (o *ObservedTool) Name() string        { return o.inner.Name }
func (o *ObservedTool) Description() string { return o.inner.Description }

func (o *ObservedTool) Invoke(ctx context.Context, input string) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.invoke", trace.WithAttributes(
		AttrToolName.String(o.inner.Name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Invoke(ctx, input)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(result)),
	)
	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(o.inner.Name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(o.inner.Name),
	))
	return result, err
}
