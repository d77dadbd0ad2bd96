/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the
// authorization core. Custom span attributes use the `authz.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "authrim.io/authz"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initializes the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (a no-op shutdown is
// returned). The returned function must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("authrim-authz"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartCheckSpan creates the parent span for a unified Check call.
func StartCheckSpan(ctx context.Context, tenant, permission string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "authz.check",
		trace.WithAttributes(
			attribute.String("authz.tenant", tenant),
			attribute.String("authz.permission", permission),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartReBACSpan creates a child span for the ReBAC evaluation step.
func StartReBACSpan(ctx context.Context, relation string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "authz.rebac",
		trace.WithAttributes(attribute.String("authz.relation", relation)),
	)
}

// StartPolicySpan creates a child span for the policy evaluation step.
func StartPolicySpan(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "authz.policy")
}

// EndPolicySpan enriches the policy span with its decision before ending it.
func EndPolicySpan(span trace.Span, decidedBy string, allowed bool) {
	span.SetAttributes(
		attribute.String("authz.policy.decided_by", decidedBy),
		attribute.Bool("authz.policy.allowed", allowed),
	)
	span.End()
}

// StartCacheSpan creates a child span for a cache get/put operation.
func StartCacheSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "authz.cache."+op)
}

// EndCheckSpan enriches the top-level check span with its final outcome.
func EndCheckSpan(span trace.Span, allowed bool, resolvedVia []string) {
	span.SetAttributes(
		attribute.Bool("authz.allowed", allowed),
		attribute.StringSlice("authz.resolved_via", resolvedVia),
	)
	span.End()
}
