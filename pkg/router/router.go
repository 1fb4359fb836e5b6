// Package router turns a user message into a response: deterministic
// gates first, then intent classification, agent sequencing, retrieval,
// and the epistemic pass over whatever text reaches the user.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/marginalia-ai/marginalia/pkg/agents"
	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/epistemic"
	"github.com/marginalia-ai/marginalia/pkg/hermeneutic"
	"github.com/marginalia-ai/marginalia/pkg/intent"
	"github.com/marginalia-ai/marginalia/pkg/llms"
	"github.com/marginalia-ai/marginalia/pkg/memory"
	"github.com/marginalia-ai/marginalia/pkg/observability"
	"github.com/marginalia-ai/marginalia/pkg/retrieval"
)

// How a turn was served, recorded in the result and the metrics.
const (
	HandledDeterministic = "deterministic"
	HandledLLMSingle     = "llm_single"
	HandledPassthrough   = "llm_single_passthrough"
	HandledAgents        = "agent_pipeline"
	HandledError         = "error"
)

// apology is the user-facing text for unrecoverable turn failures.
const apology = "Something went wrong while handling that. Please try again."

// anchorSkipWindow is how close to the context deadline the anchor step
// gets dropped to protect the turn's latency budget.
const anchorSkipWindow = 300 * time.Millisecond

// Request is one user turn.
type Request struct {
	Message   string
	UserID    string
	ProjectID string

	// History is the prior conversation, oldest first.
	History []llms.Message

	// Profile names the hermeneutic study profile for the
	// conversation, "" when none is declared.
	Profile string

	// Deep grants the epistemic pass its larger anchor budget.
	Deep bool
}

// Result is the router's answer to one turn.
type Result struct {
	Content   string
	HandledBy string

	AgentOutputs []*agents.Output
	Citations    []agents.Citation
	Badge        epistemic.Badge
	Trace        *Trace
}

// Deps collects everything the router orchestrates.
type Deps struct {
	Classifier  *intent.Classifier
	Agents      *agents.Registry
	Coordinator *retrieval.Coordinator
	Store       *memory.Store
	Gateway     *llms.Gateway
	Epistemic   *epistemic.Pipeline
	Overlay     *hermeneutic.Overlay
}

// Router dispatches turns. Construct once; safe for concurrent use.
type Router struct {
	classifier  *intent.Classifier
	agents      *agents.Registry
	coordinator *retrieval.Coordinator
	store       *memory.Store
	gateway     *llms.Gateway
	epistemic   *epistemic.Pipeline
	overlay     *hermeneutic.Overlay
}

// NewRouter wires the router. The caller owns classifier warm-up.
func NewRouter(deps Deps) *Router {
	return &Router{
		classifier:  deps.Classifier,
		agents:      deps.Agents,
		coordinator: deps.Coordinator,
		store:       deps.Store,
		gateway:     deps.Gateway,
		epistemic:   deps.Epistemic,
		overlay:     deps.Overlay,
	}
}

// Handle serves one turn. It never returns an error: every failure mode
// degrades to a result, with the cause recorded in the trace.
func (r *Router) Handle(ctx context.Context, req *Request) (result *Result) {
	started := time.Now()
	trace := newTrace()

	ctx, span := observability.GetTracer("marginalia.router").Start(ctx, observability.SpanTurn)
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("turn handling panicked", "trace_id", trace.TraceID, "panic", rec)
			trace.fail(fmt.Sprintf("panic: %v", rec))
			trace.RouteType = HandledError
			result = &Result{Content: apology, HandledBy: HandledError, Trace: trace}
		}
		observability.TurnsTotal.WithLabelValues(result.HandledBy).Inc()
		observability.TurnDuration.Observe(time.Since(started).Seconds())
		span.SetAttributes(
			attribute.String(observability.AttrRouteType, result.HandledBy),
			attribute.String(observability.AttrTraceID, trace.TraceID),
		)
	}()

	// Countable questions are answered straight from storage, before
	// any model is consulted.
	if answer, ok := r.gate(ctx, req); ok {
		trace.RouteType = HandledDeterministic
		ep := r.epistemic.Process(ctx, &epistemic.Request{Text: answer.text, QueryType: answer.queryType})
		trace.Badge = string(ep.Badge)
		return &Result{
			Content:   ep.Processed,
			HandledBy: HandledDeterministic,
			Badge:     ep.Badge,
			Trace:     trace,
		}
	}

	classifyStart := time.Now()
	intents, source, err := r.classifier.ClassifyDetailed(ctx, req.Message)
	trace.step("classify", classifyStart)
	if err != nil {
		trace.fail(fmt.Sprintf("classify: %v", err))
	}
	trace.Intents = intents
	trace.IntentSource = source

	// An empty message has nothing to route. Classification failure is
	// different: the turn continues and falls through to a single LLM
	// call below.
	if len(intents) == 0 && err == nil {
		trace.RouteType = HandledPassthrough
		return &Result{HandledBy: HandledPassthrough, Trace: trace}
	}

	hasProject := req.ProjectID != ""
	scholar := scholarly(req.Message)
	sequence := buildSequence(intents, hasProject, scholar, referencesProject(req.Message))
	trace.Sequence = sequence

	systemContext := r.memoryBlock(ctx, req, trace)
	if r.overlay != nil && req.Profile != "" {
		if challenge := r.overlay.PreAnswer(req.Profile, req.Message); challenge != "" {
			if systemContext != "" {
				systemContext += "\n\n"
			}
			systemContext += challenge
		}
	}

	if len(sequence) == 0 {
		trace.RouteType = HandledLLMSingle
		return r.singleLLM(ctx, req, systemContext, trace)
	}

	var chunks []retrieval.Chunk
	if needsRetrieval(sequence, intents, hasProject) {
		retrievalStart := time.Now()
		chunks, err = r.coordinator.Retrieve(ctx, req.Message, req.ProjectID, intents)
		trace.step("retrieval", retrievalStart)
		trace.RetrievalRan = true
		if err != nil {
			// The pipeline still runs; agents just work unsourced.
			trace.fail(fmt.Sprintf("retrieval: %v", err))
			chunks = nil
		}
		trace.RetrievedChunks = len(chunks)
	}

	outputs := r.execute(ctx, req, sequence, systemContext, chunks, scholar, trace)
	content, citations := composeResponse(outputs)
	if content == "" {
		trace.RouteType = HandledError
		return &Result{
			Content:      "I wasn't able to complete that request.",
			HandledBy:    HandledError,
			AgentOutputs: outputs,
			Trace:        trace,
		}
	}

	ep := r.processEpistemic(ctx, content, chunks, req.Deep)
	content = ep.Processed
	trace.Badge = string(ep.Badge)

	var warnings []hermeneutic.Warning
	if r.overlay != nil && req.Profile != "" {
		var disclosure string
		disclosure, warnings = r.overlay.PostAnswer(req.Profile, content)
		if disclosure != "" {
			content += "\n\n" + disclosure
		}
		trace.Warnings = warnings
	}

	for _, out := range outputs {
		if out.Provider != "" {
			trace.Provider = out.Provider
			trace.Model = out.Model
		}
	}

	r.autoCapture(ctx, req, content, sequence, trace)

	trace.RouteType = HandledAgents
	return &Result{
		Content:      content,
		HandledBy:    HandledAgents,
		AgentOutputs: outputs,
		Citations:    citations,
		Badge:        ep.Badge,
		Trace:        trace,
	}
}

// autoCapture lets the archivist quietly bank durable facts the turn
// revealed. It runs after the reply is final; nothing it does or fails
// to do can change the response. Memory turns skip it, the archivist
// already ran.
func (r *Router) autoCapture(ctx context.Context, req *Request, reply string, sequence []string, trace *Trace) {
	if req.UserID == "" || reply == "" {
		return
	}
	for _, name := range sequence {
		if name == agentArchivist {
			return
		}
	}
	agent, ok := r.agents.Get(agentArchivist)
	if !ok {
		return
	}
	archivist, ok := agent.(*agents.Archivist)
	if !ok {
		return
	}

	captureStart := time.Now()
	stored := archivist.AutoCapture(ctx, req.UserID, req.Message, reply)
	trace.step("auto_capture", captureStart)
	if len(stored) > 0 {
		slog.Debug("auto-captured memories", "count", len(stored))
	}
}

// memoryBlock selects and renders memory context. Failures degrade to
// an empty block; the turn proceeds without memory.
func (r *Router) memoryBlock(ctx context.Context, req *Request, trace *Trace) string {
	memoryStart := time.Now()
	defer trace.step("memory", memoryStart)

	selection, err := r.store.MemoriesForContext(ctx, req.Message, req.UserID)
	if err != nil {
		trace.fail(fmt.Sprintf("memory: %v", err))
		return ""
	}
	trace.MemoryCount = len(selection.IDs())
	return memory.FormatForPrompt(selection)
}

// execute runs the agent sequence in order. A failed agent is recorded
// and the sequence continues; later agents see only successful outputs
// before them.
func (r *Router) execute(ctx context.Context, req *Request, sequence []string, systemContext string, chunks []retrieval.Chunk, scholar bool, trace *Trace) []*agents.Output {
	input := &agents.TurnInput{
		Message:       req.Message,
		UserID:        req.UserID,
		ProjectID:     req.ProjectID,
		History:       req.History,
		MemoryContext: systemContext,
		Chunks:        chunks,
		ScholarMode:   scholar,
	}

	var outputs []*agents.Output
	for _, name := range sequence {
		agent, ok := r.agents.Get(name)
		if !ok {
			trace.fail(fmt.Sprintf("%s: not registered", name))
			continue
		}

		stepStart := time.Now()
		out, err := agent.Run(ctx, input)
		trace.step(name, stepStart)
		if err != nil {
			slog.Warn("agent failed, continuing sequence", "agent", name, "error", err)
			trace.fail(fmt.Sprintf("%s: %v", name, err))
			outputs = append(outputs, &agents.Output{Agent: name, Error: err.Error()})
			continue
		}
		outputs = append(outputs, out)
		input.PriorOutputs = outputs
	}
	return outputs
}

// singleLLM answers with one writer-role call and no agents.
func (r *Router) singleLLM(ctx context.Context, req *Request, systemContext string, trace *Trace) *Result {
	system := "You are a careful personal research assistant. Answer directly and note uncertainty honestly."
	if systemContext != "" {
		system += "\n\n" + systemContext
	}

	messages := make([]llms.Message, 0, len(req.History)+2)
	messages = append(messages, llms.System(system))
	messages = append(messages, req.History...)
	messages = append(messages, llms.User(req.Message))

	llmStart := time.Now()
	chat, err := r.gateway.Chat(ctx, config.RoleWriter, messages, nil)
	trace.step("llm", llmStart)
	if err != nil {
		trace.fail(fmt.Sprintf("llm: %v", err))
		trace.RouteType = HandledError
		return &Result{Content: apology, HandledBy: HandledError, Trace: trace}
	}
	trace.Provider = chat.Provider
	trace.Model = chat.Model

	ep := r.processEpistemic(ctx, chat.Text, nil, req.Deep)
	trace.Badge = string(ep.Badge)

	content := ep.Processed
	var warnings []hermeneutic.Warning
	if r.overlay != nil && req.Profile != "" {
		var disclosure string
		disclosure, warnings = r.overlay.PostAnswer(req.Profile, content)
		if disclosure != "" {
			content += "\n\n" + disclosure
		}
		trace.Warnings = warnings
	}

	r.autoCapture(ctx, req, content, nil, trace)

	return &Result{
		Content:   content,
		HandledBy: HandledLLMSingle,
		Badge:     ep.Badge,
		Trace:     trace,
	}
}

// processEpistemic runs the epistemic pass over user-facing text, with
// retrieved chunks serving as the session evidence tier.
func (r *Router) processEpistemic(ctx context.Context, text string, chunks []retrieval.Chunk, deep bool) *epistemic.Result {
	var sources epistemic.Sources
	if len(chunks) > 0 {
		snippets := make([]epistemic.Snippet, len(chunks))
		for i, chunk := range chunks {
			ref := chunk.File
			if chunk.Page > 0 {
				ref = fmt.Sprintf("%s p.%d", chunk.File, chunk.Page)
			}
			snippets[i] = epistemic.Snippet{Text: chunk.Text, Ref: ref}
		}
		sources = epistemic.Sources{"session": epistemic.SessionSource(snippets)}
	}

	skipAnchor := false
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < anchorSkipWindow {
		skipAnchor = true
	}

	return r.epistemic.Process(ctx, &epistemic.Request{
		Text:        text,
		QueryType:   epistemic.QueryGeneral,
		Sources:     sources,
		SourceCount: len(chunks),
		Deep:        deep,
		SkipAnchor:  skipAnchor,
	})
}
