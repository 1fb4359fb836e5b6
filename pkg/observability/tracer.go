package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Span names used across the core. Kept in one place so traces stay
// greppable.
const (
	SpanLLMRequest   = "llm.request"
	SpanEmbed        = "embedder.embed"
	SpanTurn         = "router.turn"
	SpanRetrieval    = "retrieval.search"
	SpanEpistemic    = "epistemic.process"
	SpanMemorySearch = "memory.search"
)

// Attribute keys.
const (
	AttrLLMModel        = "llm.model"
	AttrLLMProvider     = "llm.provider"
	AttrLLMRole         = "llm.role"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrRouteType       = "router.route_type"
	AttrTraceID         = "router.trace_id"
)

// GetTracer returns a named tracer from the globally registered
// provider. Callers that never install a provider get the no-op
// implementation, so instrumentation is always safe.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
