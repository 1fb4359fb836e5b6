package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/intent"
	"github.com/marginalia-ai/marginalia/pkg/llms"
	"github.com/marginalia-ai/marginalia/pkg/memory"
)

// Archivist curates the memory store. Unambiguous remember/forget
// commands are applied directly; anything else goes to the model, which
// proposes operations the archivist validates and applies in a fixed
// order: stores, updates, forgets, consolidations.
type Archivist struct {
	gateway *llms.Gateway
	store   *memory.Store
}

func NewArchivist(gateway *llms.Gateway, store *memory.Store) *Archivist {
	return &Archivist{gateway: gateway, store: store}
}

func (a *Archivist) Name() string { return "archivist" }

func (a *Archivist) CanHandle(intentName string) bool {
	return intentName == intent.IntentMemory
}

var (
	rememberPattern = regexp.MustCompile(`(?i)^\s*remember (?:that )?(.+?)[.!]?\s*$`)
	forgetPattern   = regexp.MustCompile(`(?i)^\s*(?:forget|don'?t remember) (?:about |that |what i said about )?(.+?)[.!]?\s*$`)
)

func (a *Archivist) Run(ctx context.Context, input *TurnInput) (*Output, error) {
	if output, handled, err := a.fastPath(ctx, input); handled {
		return output, err
	}
	return a.llmPath(ctx, input)
}

// fastPath applies unambiguous commands without a model call.
func (a *Archivist) fastPath(ctx context.Context, input *TurnInput) (*Output, bool, error) {
	if m := rememberPattern.FindStringSubmatch(input.Message); m != nil {
		id, err := a.store.Add(ctx, m[1], memory.CategoryFact, input.UserID,
			memory.SourceManual, memory.TierLongTerm, 0.8)
		if err != nil {
			return nil, true, fmt.Errorf("failed to store memory: %w", err)
		}
		return a.output(&MemoryChanges{
			Stored: []string{id},
			Ack:    "Got it, I'll remember that.",
		}), true, nil
	}

	if m := forgetPattern.FindStringSubmatch(input.Message); m != nil {
		changes, err := a.forgetBestMatch(ctx, m[1], input.UserID)
		if err != nil {
			return nil, true, err
		}
		return a.output(changes), true, nil
	}

	return nil, false, nil
}

// forgetBestMatch deletes the closest memory to the description, but
// only when the match is confident enough to act on.
func (a *Archivist) forgetBestMatch(ctx context.Context, description, userID string) (*MemoryChanges, error) {
	hits, err := a.store.Search(ctx, description, userID, "", 1)
	if err != nil {
		return nil, fmt.Errorf("failed to search for memory to forget: %w", err)
	}
	if len(hits) == 0 || hits[0].Raw <= 0.5 {
		return &MemoryChanges{Ack: "I couldn't find a matching memory to forget."}, nil
	}

	ok, err := a.store.Delete(ctx, hits[0].Memory.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete memory: %w", err)
	}
	if !ok {
		return &MemoryChanges{Ack: "I couldn't find a matching memory to forget."}, nil
	}
	return &MemoryChanges{
		Forgotten: []string{hits[0].Memory.ID},
		Ack:       "Okay, I've forgotten that.",
	}, nil
}

const archivistSystemPrompt = `You curate the user's memory store. Given the user's request and their existing memories (each with an id), respond with a JSON object of operations. Use only the listed memory ids; never invent ids.

{
  "stores": [{"content": "...", "category": "identity|preference|values|project|fact|goal|skill|relationship", "tier": "core|long_term|episodic", "confidence": 0.0}],
  "updates": [{"id": "...", "content": "...", "confidence": 0.0}],
  "forgets": [{"id": "..."}],
  "consolidations": [{"merged_content": "...", "category": "...", "source_ids": ["...", "..."]}]
}

Omit empty lists. Prefer updating an existing memory over storing a near-duplicate. Consolidate only memories that say the same thing.`

type archivistReply struct {
	Stores []struct {
		Content    string  `json:"content"`
		Category   string  `json:"category"`
		Tier       string  `json:"tier"`
		Confidence float64 `json:"confidence"`
	} `json:"stores"`
	Updates []struct {
		ID         string   `json:"id"`
		Content    string   `json:"content"`
		Confidence *float64 `json:"confidence"`
	} `json:"updates"`
	Forgets []struct {
		ID string `json:"id"`
	} `json:"forgets"`
	Consolidations []struct {
		MergedContent string   `json:"merged_content"`
		Category      string   `json:"category"`
		SourceIDs     []string `json:"source_ids"`
	} `json:"consolidations"`
}

func (a *Archivist) llmPath(ctx context.Context, input *TurnInput) (*Output, error) {
	existing, err := a.store.Search(ctx, input.Message, input.UserID, "", 10)
	if err != nil {
		return nil, err
	}

	prompt := archivistSystemPrompt
	if len(existing) > 0 {
		var b strings.Builder
		b.WriteString("\n\nExisting memories:\n")
		for _, hit := range existing {
			fmt.Fprintf(&b, "- id=%s [%s/%s] %s\n",
				hit.Memory.ID, hit.Memory.Tier, hit.Memory.Category, hit.Memory.Content)
		}
		prompt += b.String()
	}

	result, err := a.gateway.Chat(ctx, config.RoleArchivist,
		buildMessages(prompt, input),
		&llms.ChatOptions{JSONMode: true})
	if err != nil {
		if output, ok := a.heuristicCapture(ctx, input); ok {
			slog.Warn("archivist model unavailable, used heuristic capture", "error", err)
			return output, nil
		}
		return nil, fmt.Errorf("archivist request failed: %w", err)
	}

	raw, jsonErr := extractJSON(result.Text)
	if jsonErr != nil {
		return nil, fmt.Errorf("archivist reply was not usable: %w", jsonErr)
	}
	var reply archivistReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse archivist reply: %w", err)
	}

	changes, err := a.apply(ctx, &reply, input.UserID)
	if err != nil {
		return nil, err
	}

	output := a.output(changes)
	output.Tokens = result.Tokens
	output.Provider = result.Provider
	output.Model = result.Model
	return output, nil
}

var (
	identityStatementPattern   = regexp.MustCompile(`(?i)\b(my name is|i am called|call me|i work as|i'?m an? )\b`)
	preferenceStatementPattern = regexp.MustCompile(`(?i)\b(i (prefer|like|love|hate|dislike|enjoy)|my favou?rite)\b`)
)

// heuristicCapture is the degraded path when the model is unavailable:
// obvious identity and preference statements are stored directly, and
// anything subtler is declined rather than guessed at.
func (a *Archivist) heuristicCapture(ctx context.Context, input *TurnInput) (*Output, bool) {
	var category string
	switch {
	case identityStatementPattern.MatchString(input.Message):
		category = memory.CategoryIdentity
	case preferenceStatementPattern.MatchString(input.Message):
		category = memory.CategoryPreference
	default:
		return nil, false
	}

	id, err := a.store.Add(ctx, strings.TrimSpace(input.Message), category, input.UserID,
		memory.SourceManual, memory.TierLongTerm, 0.6)
	if err != nil {
		slog.Warn("heuristic capture store failed", "error", err)
		return nil, false
	}
	return a.output(&MemoryChanges{
		Stored: []string{id},
		Ack:    "Got it, I'll remember that.",
	}), true
}

// apply executes proposed operations in a fixed order. Operations
// naming an unknown or foreign id are skipped with a warning rather
// than failing the batch; a consolidation with any bad source id is
// skipped whole.
func (a *Archivist) apply(ctx context.Context, reply *archivistReply, userID string) (*MemoryChanges, error) {
	changes := &MemoryChanges{}

	for _, op := range reply.Stores {
		tier := memory.Tier(op.Tier)
		if !memory.ValidTier(tier) {
			tier = memory.TierLongTerm
		}
		category := op.Category
		if category == "" {
			category = memory.CategoryFact
		}
		id, err := a.store.Add(ctx, op.Content, category, userID, memory.SourceManual, tier, op.Confidence)
		if err != nil {
			slog.Warn("archivist store failed", "error", err)
			continue
		}
		changes.Stored = append(changes.Stored, id)
	}

	for _, op := range reply.Updates {
		fields := memory.UpdateFields{Confidence: op.Confidence}
		if op.Content != "" {
			fields.Content = &op.Content
		}
		ok, err := a.store.Update(ctx, op.ID, fields, userID)
		if err != nil {
			slog.Warn("archivist update failed", "id", op.ID, "error", err)
			continue
		}
		if !ok {
			slog.Warn("archivist update skipped, id unknown or not owned", "id", op.ID)
			continue
		}
		changes.Updated = append(changes.Updated, op.ID)
	}

	for _, op := range reply.Forgets {
		ok, err := a.store.Delete(ctx, op.ID, userID)
		if err != nil {
			slog.Warn("archivist forget failed", "id", op.ID, "error", err)
			continue
		}
		if !ok {
			slog.Warn("archivist forget skipped, id unknown or not owned", "id", op.ID)
			continue
		}
		changes.Forgotten = append(changes.Forgotten, op.ID)
	}

	for _, op := range reply.Consolidations {
		if !a.ownsAll(ctx, op.SourceIDs, userID) {
			slog.Warn("consolidation skipped, source ids unknown or not owned", "sources", op.SourceIDs)
			continue
		}
		category := op.Category
		if category == "" {
			category = memory.CategoryFact
		}
		id, err := a.store.Consolidate(ctx, op.MergedContent, category, userID, op.SourceIDs)
		if err != nil {
			slog.Warn("consolidation failed", "error", err)
			continue
		}
		changes.Consolidated = append(changes.Consolidated, id)
	}

	if changes.Ack == "" {
		changes.Ack = ackFor(changes)
	}
	return changes, nil
}

// ownsAll verifies every id exists and is visible to the user.
func (a *Archivist) ownsAll(ctx context.Context, ids []string, userID string) bool {
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		m, err := a.store.Get(ctx, id)
		if err != nil || m == nil {
			return false
		}
		if m.UserID != "" && m.UserID != userID {
			return false
		}
	}
	return true
}

func ackFor(changes *MemoryChanges) string {
	switch {
	case !changes.Changed():
		return "Nothing needed updating in my memory."
	case len(changes.Forgotten) > 0 && len(changes.Stored) == 0 && len(changes.Updated) == 0:
		return "Okay, I've forgotten that."
	case len(changes.Consolidated) > 0:
		return "Got it, I've tidied up my memory."
	default:
		return "Got it, I've updated my memory."
	}
}

func (a *Archivist) output(changes *MemoryChanges) *Output {
	return &Output{
		Agent:   a.Name(),
		Content: Content{MemoryChanges: changes},
		IsFinal: true,
	}
}

const autoCapturePrompt = `Decide whether this exchange revealed a durable fact about the user worth remembering. Respond with JSON:

{"memories": [{"content": "...", "category": "identity|preference|values|project|goal"}]}

Return an empty list unless the fact is clearly stable and personal. Never capture one-off context or the assistant's own statements.`

type autoCaptureReply struct {
	Memories []struct {
		Content  string `json:"content"`
		Category string `json:"category"`
	} `json:"memories"`
}

// AutoCapture runs after a non-memory turn and quietly stores durable
// facts the exchange revealed, honoring the user's auto-save settings.
// Best-effort: failures are logged and swallowed.
func (a *Archivist) AutoCapture(ctx context.Context, userID, message, reply string) []string {
	settings, err := a.store.GetSettings(ctx, userID)
	if err != nil || !settings.AutoSaveEnabled {
		return nil
	}
	allowed := make(map[string]bool, len(settings.AutoSaveCategories))
	for _, c := range settings.AutoSaveCategories {
		allowed[c] = true
	}

	result, err := a.gateway.Chat(ctx, config.RoleArchivist,
		[]llms.Message{
			llms.System(autoCapturePrompt),
			llms.User("User said: " + message + "\n\nAssistant replied: " + reply),
		},
		&llms.ChatOptions{JSONMode: true, MaxTokens: 300})
	if err != nil {
		slog.Debug("auto-capture call failed", "error", err)
		return nil
	}

	raw, err := extractJSON(result.Text)
	if err != nil {
		return nil
	}
	var parsed autoCaptureReply
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}

	var stored []string
	for _, candidate := range parsed.Memories {
		if candidate.Content == "" || !allowed[candidate.Category] {
			continue
		}
		id, err := a.store.Add(ctx, candidate.Content, candidate.Category, userID,
			memory.SourceAuto, memory.TierEpisodic, 0.6)
		if err != nil {
			slog.Debug("auto-capture store failed", "error", err)
			continue
		}
		stored = append(stored, id)
	}
	return stored
}

var _ Agent = (*Archivist)(nil)
