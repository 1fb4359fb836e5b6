package router

import (
	"time"

	"github.com/google/uuid"

	"github.com/marginalia-ai/marginalia/pkg/hermeneutic"
)

// Trace is the per-turn diagnostic record. It is always collected; the
// embedding application decides whether to return it to the caller.
type Trace struct {
	TraceID      string   `json:"trace_id"`
	RouteType    string   `json:"route_type"`
	Intents      []string `json:"intents"`
	IntentSource string   `json:"intent_source"`
	Sequence     []string `json:"sequence,omitempty"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	RetrievalRan    bool `json:"retrieval_ran"`
	RetrievedChunks int  `json:"retrieved_chunks"`
	MemoryCount     int  `json:"memory_count"`

	Steps  []Step   `json:"steps,omitempty"`
	Errors []string `json:"errors,omitempty"`

	Badge    string                `json:"badge,omitempty"`
	Warnings []hermeneutic.Warning `json:"warnings,omitempty"`
}

// Step records one timed stage of the turn.
type Step struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
}

func newTrace() *Trace {
	return &Trace{TraceID: uuid.New().String()}
}

// step appends a timing entry. Use with defer:
//
//	defer trace.step("classify", time.Now())
func (t *Trace) step(name string, started time.Time) {
	t.Steps = append(t.Steps, Step{Name: name, DurationMS: time.Since(started).Milliseconds()})
}

func (t *Trace) fail(msg string) {
	t.Errors = append(t.Errors, msg)
}
