package intent

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/llms"
	"github.com/marginalia-ai/marginalia/pkg/observability"
)

// Recognized intents, in routing priority order.
const (
	IntentMemory    = "memory"
	IntentPlan      = "plan"
	IntentCode      = "code"
	IntentWrite     = "write"
	IntentResearch  = "research"
	IntentSummarize = "summarize"
	IntentExplain   = "explain"
	IntentGeneral   = "general"
)

// Intents returns the closed intent list.
func Intents() []string {
	return []string{IntentMemory, IntentPlan, IntentCode, IntentWrite, IntentResearch, IntentSummarize, IntentExplain, IntentGeneral}
}

// ValidIntent reports whether s is in the closed list.
func ValidIntent(s string) bool {
	for _, intent := range Intents() {
		if s == intent {
			return true
		}
	}
	return false
}

// Classifier assigns intents to a user message. A heuristic tier
// resolves unambiguous phrasings without an LLM call; everything else
// goes to the classifier role with an LRU cache in front and
// singleflight collapsing concurrent identical messages.
type Classifier struct {
	gateway *llms.Gateway
	cache   *lru.Cache[string, []string]
	group   singleflight.Group
	cfg     config.ClassifierConfig

	warmOnce sync.Once
}

func NewClassifier(gateway *llms.Gateway, cfg config.ClassifierConfig) (*Classifier, error) {
	capacity := cfg.CacheCapacity
	if capacity <= 0 {
		capacity = 500
	}
	cache, err := lru.New[string, []string](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier cache: %w", err)
	}
	return &Classifier{gateway: gateway, cache: cache, cfg: cfg}, nil
}

// Warm primes the classifier role's provider so the first real turn
// does not pay cold-start latency. Safe to call repeatedly; only the
// first call does work. Failures are logged, not returned: a cold
// classifier still works.
func (c *Classifier) Warm(ctx context.Context) {
	c.warmOnce.Do(func() {
		if !c.gateway.IsAvailable(config.RoleClassifier) {
			slog.Debug("classifier role has no available provider, skipping warm-up")
			return
		}
		_, err := c.gateway.Chat(ctx, config.RoleClassifier,
			[]llms.Message{llms.User("ok")},
			&llms.ChatOptions{MaxTokens: 1, Model: c.cfg.Model})
		if err != nil {
			slog.Debug("classifier warm-up failed", "error", err)
		}
	})
}

// How a classification was produced, for traces.
const (
	SourceHeuristic = "heuristic"
	SourceLLM       = "local_llm"
	SourceLLMCache  = "local_llm_cache"
	SourceNone      = "none"
)

// Classify returns the message's intents in priority order. The slice
// may be empty when the message is blank or classification fails.
func (c *Classifier) Classify(ctx context.Context, message string) ([]string, error) {
	intents, _, err := c.ClassifyDetailed(ctx, message)
	return intents, err
}

// ClassifyDetailed additionally reports where the result came from:
// heuristic, local_llm, local_llm_cache, or none for an empty message.
func (c *Classifier) ClassifyDetailed(ctx context.Context, message string) ([]string, string, error) {
	if strings.TrimSpace(message) == "" {
		return nil, SourceNone, nil
	}
	if intents := heuristicIntents(message); len(intents) > 0 {
		return intents, SourceHeuristic, nil
	}

	key := cacheKey(message)
	if cached, ok := c.cache.Get(key); ok {
		observability.ClassifierCacheHits.Inc()
		return cached, SourceLLMCache, nil
	}
	observability.ClassifierCacheMisses.Inc()

	result, err, shared := c.group.Do(key, func() (any, error) {
		intents, err := c.classifyLLM(ctx, message)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, intents)
		return intents, nil
	})
	if err != nil {
		// A failed classification keeps the (empty) heuristic result;
		// the caller decides how an unclassified turn is served.
		slog.Warn("intent classification failed, using heuristic result", "error", err)
		return nil, SourceHeuristic, err
	}
	source := SourceLLM
	if shared {
		source = SourceLLMCache
	}
	return result.([]string), source, nil
}

const classifierSystemPrompt = `You classify a user message into intents. The only valid intents are:
memory, plan, code, write, research, summarize, explain, general.

Respond with a JSON array of intent strings, most important first, and nothing else. Use multiple intents only when the message genuinely asks for multiple kinds of work.`

func (c *Classifier) classifyLLM(ctx context.Context, message string) ([]string, error) {
	result, err := c.gateway.Chat(ctx, config.RoleClassifier,
		[]llms.Message{
			llms.System(classifierSystemPrompt),
			llms.User(message),
		},
		&llms.ChatOptions{JSONMode: true, MaxTokens: 100, Model: c.cfg.Model})
	if err != nil {
		return nil, err
	}

	intents, err := parseIntents(result.Text)
	if err != nil {
		return nil, err
	}
	if len(intents) == 0 {
		return []string{IntentGeneral}, nil
	}
	return intents, nil
}

// parseIntents extracts the JSON array from a model reply, tolerating
// surrounding prose, and drops anything outside the closed list.
func parseIntents(text string) ([]string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in classifier reply: %q", text)
	}

	var raw []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse classifier reply: %w", err)
	}

	seen := make(map[string]bool)
	intents := make([]string, 0, len(raw))
	for _, intent := range raw {
		intent = strings.ToLower(strings.TrimSpace(intent))
		if ValidIntent(intent) && !seen[intent] {
			seen[intent] = true
			intents = append(intents, intent)
		}
	}
	return intents, nil
}

// cacheKey normalizes whitespace and case so trivially restated
// messages share a cache entry.
func cacheKey(message string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(message)), " ")
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
