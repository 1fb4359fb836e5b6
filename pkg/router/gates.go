package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/marginalia-ai/marginalia/pkg/epistemic"
	"github.com/marginalia-ai/marginalia/pkg/memory"
)

// gateAnswer is a response produced without any model call.
type gateAnswer struct {
	text      string
	queryType epistemic.QueryType
}

var (
	taskCountPattern   = regexp.MustCompile(`(?i)\bhow many (open |pending |remaining )?tasks\b`)
	taskListPattern    = regexp.MustCompile(`(?i)\b(list|show)( me)? (my |the )?(open |pending |remaining )?tasks\b`)
	memoryCountPattern = regexp.MustCompile(`(?i)\bhow many (memories|things do you remember)\b`)
)

// gate answers countable questions straight from storage. A store error
// falls through to normal routing rather than failing the turn.
func (r *Router) gate(ctx context.Context, req *Request) (*gateAnswer, bool) {
	switch {
	case taskCountPattern.MatchString(req.Message) && req.ProjectID != "":
		tasks, err := r.store.ListProjectTasks(ctx, req.ProjectID)
		if err != nil {
			slog.Warn("task count gate failed, routing normally", "error", err)
			return nil, false
		}
		pending := 0
		for _, t := range tasks {
			if t.Status == memory.TaskStatusPending {
				pending++
			}
		}
		return &gateAnswer{text: countLine(pending, "pending task"), queryType: epistemic.QueryCount}, true

	case taskListPattern.MatchString(req.Message) && req.ProjectID != "":
		tasks, err := r.store.ListProjectTasks(ctx, req.ProjectID)
		if err != nil {
			slog.Warn("task list gate failed, routing normally", "error", err)
			return nil, false
		}
		var b strings.Builder
		n := 0
		for _, t := range tasks {
			if t.Status != memory.TaskStatusPending {
				continue
			}
			n++
			fmt.Fprintf(&b, "%d. %s\n", n, t.Description)
		}
		if n == 0 {
			return &gateAnswer{text: "You have no pending tasks.", queryType: epistemic.QueryList}, true
		}
		return &gateAnswer{text: "Pending tasks:\n" + b.String(), queryType: epistemic.QueryList}, true

	case memoryCountPattern.MatchString(req.Message):
		stats, err := r.store.Stats(ctx, req.UserID)
		if err != nil {
			slog.Warn("memory count gate failed, routing normally", "error", err)
			return nil, false
		}
		total := 0
		for _, count := range stats.ByTier {
			total += count
		}
		noun := "memories"
		if total == 1 {
			noun = "memory"
		}
		text := fmt.Sprintf("You have %d stored %s (%d core, %d long-term, %d episodic).",
			total, noun,
			stats.ByTier[memory.TierCore],
			stats.ByTier[memory.TierLongTerm],
			stats.ByTier[memory.TierEpisodic])
		return &gateAnswer{text: text, queryType: epistemic.QueryCount}, true
	}
	return nil, false
}

func countLine(n int, noun string) string {
	switch n {
	case 0:
		return fmt.Sprintf("You have no %ss.", noun)
	case 1:
		return fmt.Sprintf("You have 1 %s.", noun)
	default:
		return fmt.Sprintf("You have %d %ss.", n, noun)
	}
}
