package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/intent"
	"github.com/marginalia-ai/marginalia/pkg/llms"
	"github.com/marginalia-ai/marginalia/pkg/memory"
)

// Planner decomposes goals into task lists. A goal too vague to plan
// yields clarifying questions instead. Plans for an active project are
// persisted so later turns can pick tasks up.
type Planner struct {
	gateway *llms.Gateway
	store   *memory.Store
}

func NewPlanner(gateway *llms.Gateway, store *memory.Store) *Planner {
	return &Planner{gateway: gateway, store: store}
}

func (p *Planner) Name() string { return "planner" }

func (p *Planner) CanHandle(intentName string) bool {
	return intentName == intent.IntentPlan
}

const plannerSystemPrompt = `You decompose a user's goal into an actionable plan. Respond with a JSON object in exactly one of two shapes.

If the goal is too vague to plan, ask for what is missing:
{"clarifying_questions": ["...", "..."]}

Otherwise produce between 3 and 8 tasks:
{"tasks": [
  {"type": "research|draft|review|revise",
   "description": "...",
   "agent": "researcher|writer|engineer|",
   "depends_on": [0],
   "scope": "project|general"}
]}

"depends_on" lists the zero-based indexes of prerequisite tasks. Never mix the two shapes.`

type plannerReply struct {
	ClarifyingQuestions []string `json:"clarifying_questions"`
	Tasks               []struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Agent       string `json:"agent"`
		DependsOn   []int  `json:"depends_on"`
		Scope       string `json:"scope"`
	} `json:"tasks"`
}

func (p *Planner) Run(ctx context.Context, input *TurnInput) (*Output, error) {
	result, err := p.gateway.Chat(ctx, config.RolePlanner,
		buildMessages(plannerSystemPrompt, input),
		&llms.ChatOptions{JSONMode: true})
	if err != nil {
		return nil, fmt.Errorf("planner request failed: %w", err)
	}

	plan, err := parsePlan(result.Text)
	if err != nil {
		return nil, fmt.Errorf("planner reply was not a usable plan: %w", err)
	}

	if len(plan.Tasks) > 0 && input.ProjectID != "" && p.store != nil {
		records := make([]memory.TaskRecord, len(plan.Tasks))
		for i, task := range plan.Tasks {
			records[i] = memory.TaskRecord{
				ProjectID:   input.ProjectID,
				TaskType:    task.Type,
				Description: task.Description,
				AgentName:   task.Agent,
				DependsOn:   task.DependsOn,
				Scope:       task.Scope,
			}
		}
		if err := p.store.SaveProjectTasks(ctx, input.ProjectID, records); err != nil {
			// The plan is still useful without persistence.
			slog.Warn("failed to persist plan tasks", "project", input.ProjectID, "error", err)
		}
	}

	return &Output{
		Agent:    p.Name(),
		Content:  Content{ProjectPlan: plan},
		IsFinal:  true,
		Tokens:   result.Tokens,
		Provider: result.Provider,
		Model:    result.Model,
	}, nil
}

func parsePlan(text string) (*ProjectPlan, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var reply plannerReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	// Clarifying questions take precedence if the model mixed shapes.
	if len(reply.ClarifyingQuestions) > 0 {
		return &ProjectPlan{ClarifyingQuestions: reply.ClarifyingQuestions}, nil
	}
	if len(reply.Tasks) == 0 {
		return nil, fmt.Errorf("plan has neither questions nor tasks")
	}

	plan := &ProjectPlan{}
	for i, task := range reply.Tasks {
		for _, dep := range task.DependsOn {
			if dep < 0 || dep >= len(reply.Tasks) || dep == i {
				return nil, fmt.Errorf("task %d has invalid dependency %d", i, dep)
			}
		}
		plan.Tasks = append(plan.Tasks, PlanTask{
			Type:        normalizeTaskType(task.Type),
			Description: task.Description,
			Agent:       task.Agent,
			DependsOn:   task.DependsOn,
			Scope:       task.Scope,
		})
	}
	return plan, nil
}

// The planner's closed task vocabulary.
var validTaskTypes = map[string]bool{
	"research": true,
	"draft":    true,
	"review":   true,
	"revise":   true,
}

// normalizeTaskType folds model synonyms into the closed vocabulary.
func normalizeTaskType(taskType string) string {
	taskType = strings.ToLower(strings.TrimSpace(taskType))
	switch taskType {
	case "write", "writing":
		return "draft"
	case "edit", "editing":
		return "revise"
	}
	if validTaskTypes[taskType] {
		return taskType
	}
	return "draft"
}

var _ Agent = (*Planner)(nil)
