package epistemic

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Rules is the configurable vocabulary of the pipeline. Built-in
// defaults cover general use; a YAML file extends or overrides them.
type Rules struct {
	// RiskyPhrases produce HIGH certainty issues in ungrounded or
	// contested text.
	RiskyPhrases []string `yaml:"risky_phrases"`
	// MediumPhrases produce MEDIUM issues in ungrounded text.
	MediumPhrases []string `yaml:"medium_phrases"`
	// AllowedAbsolutes are regexes; a sentence matching one is exempt
	// from certainty linting.
	AllowedAbsolutes []string `yaml:"allowed_absolutes"`

	HedgeTokens          []string `yaml:"hedge_tokens"`
	MaxHedgesPerSentence int      `yaml:"max_hedges_per_sentence"`

	// DeterministicPatterns mark factual, mechanically-derived text.
	DeterministicPatterns []string `yaml:"deterministic_patterns"`
	// SourceReferencePatterns detect grounded text.
	SourceReferencePatterns []string `yaml:"source_reference_patterns"`

	Contested []ContestedDomain `yaml:"contested"`

	// Softening maps each risky phrase to its minimal replacement.
	Softening map[string]string `yaml:"softening"`

	StopWords []string `yaml:"stop_words"`

	Anchor AnchorRules `yaml:"anchor"`

	compiledOnce    sync.Once
	allowedRE       []*regexp.Regexp
	deterministicRE []*regexp.Regexp
	sourceRefRE     []*regexp.Regexp
	stopWordSet     map[string]bool
}

// ContestedDomain names a domain whose topics carry legitimate
// disagreement.
type ContestedDomain struct {
	Domain string           `yaml:"domain"`
	Topics []ContestedTopic `yaml:"topics"`
}

// ContestedTopic is one marker phrase with its contestation level:
// C1 intra-tradition nuance, C2 cross-tradition disagreement, C3
// legitimate minority position.
type ContestedTopic struct {
	Marker       string   `yaml:"marker"`
	Level        string   `yaml:"level"`
	Alternatives []string `yaml:"alternatives"`
}

// AnchorRules bound the evidence search.
type AnchorRules struct {
	FastBudgetMS int      `yaml:"fast_budget_ms"`
	DeepBudgetMS int      `yaml:"deep_budget_ms"`
	MaxAnchors   int      `yaml:"max_anchors"`
	SourceOrder  []string `yaml:"source_order"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *Rules {
	return &Rules{
		RiskyPhrases: []string{
			"this proves", "definitively proves", "definitively",
			"without question", "beyond doubt", "beyond any doubt",
			"irrefutably", "incontrovertibly", "settles the matter",
			"the only possible", "there is no question",
		},
		MediumPhrases: []string{
			"clearly", "obviously", "certainly", "undeniably",
			"everyone agrees", "no one disputes", "always", "never",
		},
		AllowedAbsolutes: []string{
			`(?i)\bthere (are|is|were|was) \d+\b`,
			`(?i)\bscheduled for\b`,
			`(?i)\b\d+ (files?|tasks?|items?|memories)\b`,
			`(?i)\bnever (share|stores?|sends?) (your|the)\b`,
		},
		HedgeTokens: []string{
			"perhaps", "maybe", "might", "possibly", "arguably",
			"seems", "appears", "somewhat", "likely", "probably",
			"could be", "sort of", "kind of",
		},
		MaxHedgesPerSentence: 2,
		DeterministicPatterns: []string{
			`(?i)\bthere (are|is) \d+ (files?|tasks?|memories|entries)\b`,
			`(?i)\bscheduled for\b`,
			`(?i)\byou have \d+\b`,
		},
		SourceReferencePatterns: []string{
			`(?i)\baccording to\b`,
			`\[\d+\]`,
			`(?i)\bas .{0,40}(writes|notes|argues|observes)\b`,
			`(?i)\b(genesis|exodus|deuteronomy|psalms?|isaiah|matthew|mark|luke|john|acts|romans|corinthians|galatians|ephesians|hebrews|james|revelation) \d+(:\d+)?\b`,
		},
		Contested: []ContestedDomain{
			{
				Domain: "theology",
				Topics: []ContestedTopic{
					{
						Marker: "moral law",
						Level:  "C2",
						Alternatives: []string{
							"tripartite division (moral/ceremonial/civil)",
							"covenantal continuity reading",
							"fulfillment reading (law as a whole fulfilled)",
						},
					},
					{
						Marker: "predestination",
						Level:  "C2",
						Alternatives: []string{
							"unconditional election",
							"conditional election (foreknowledge)",
							"corporate election",
						},
					},
					{
						Marker: "justification by faith",
						Level:  "C1",
						Alternatives: []string{
							"forensic justification",
							"participationist reading",
						},
					},
				},
			},
			{
				Domain: "historiography",
				Topics: []ContestedTopic{
					{
						Marker: "authorship of",
						Level:  "C2",
						Alternatives: []string{
							"traditional attribution",
							"critical consensus dating",
						},
					},
				},
			},
		},
		Softening: map[string]string{
			"this proves":          "this strongly suggests",
			"definitively proves":  "strongly suggests",
			"definitively":         "strongly",
			"without question":     "with strong support",
			"beyond doubt":         "with considerable confidence",
			"beyond any doubt":     "with considerable confidence",
			"irrefutably":          "persuasively",
			"incontrovertibly":     "persuasively",
			"settles the matter":   "weighs heavily toward this reading",
			"the only possible":    "the most plausible",
			"there is no question": "there is a strong case",
		},
		StopWords: []string{
			"a", "an", "the", "and", "or", "but", "of", "in", "on", "to",
			"for", "with", "is", "are", "was", "were", "be", "been", "it",
			"this", "that", "these", "those", "as", "at", "by", "from",
			"has", "have", "had", "not", "no", "so", "if", "then", "than",
		},
		Anchor: AnchorRules{
			FastBudgetMS: 250,
			DeepBudgetMS: 800,
			MaxAnchors:   3,
			SourceOrder:  []string{"session", "library", "reference"},
		},
	}
}

// LoadRules reads a YAML rule file over the defaults. Lists replace the
// default lists when non-empty; scalar zero values keep the default.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, rules.compile()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var loaded Rules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	rules.merge(&loaded)

	if err := rules.compile(); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *Rules) merge(o *Rules) {
	if len(o.RiskyPhrases) > 0 {
		r.RiskyPhrases = o.RiskyPhrases
	}
	if len(o.MediumPhrases) > 0 {
		r.MediumPhrases = o.MediumPhrases
	}
	if len(o.AllowedAbsolutes) > 0 {
		r.AllowedAbsolutes = o.AllowedAbsolutes
	}
	if len(o.HedgeTokens) > 0 {
		r.HedgeTokens = o.HedgeTokens
	}
	if o.MaxHedgesPerSentence > 0 {
		r.MaxHedgesPerSentence = o.MaxHedgesPerSentence
	}
	if len(o.DeterministicPatterns) > 0 {
		r.DeterministicPatterns = o.DeterministicPatterns
	}
	if len(o.SourceReferencePatterns) > 0 {
		r.SourceReferencePatterns = o.SourceReferencePatterns
	}
	if len(o.Contested) > 0 {
		r.Contested = o.Contested
	}
	if len(o.Softening) > 0 {
		r.Softening = o.Softening
	}
	if len(o.StopWords) > 0 {
		r.StopWords = o.StopWords
	}
	if o.Anchor.FastBudgetMS > 0 {
		r.Anchor.FastBudgetMS = o.Anchor.FastBudgetMS
	}
	if o.Anchor.DeepBudgetMS > 0 {
		r.Anchor.DeepBudgetMS = o.Anchor.DeepBudgetMS
	}
	if o.Anchor.MaxAnchors > 0 {
		r.Anchor.MaxAnchors = o.Anchor.MaxAnchors
	}
	if len(o.Anchor.SourceOrder) > 0 {
		r.Anchor.SourceOrder = o.Anchor.SourceOrder
	}
}

func (r *Rules) compile() error {
	var err error
	r.compiledOnce.Do(func() {
		for _, p := range r.AllowedAbsolutes {
			re, compileErr := regexp.Compile(p)
			if compileErr != nil {
				err = fmt.Errorf("invalid allowed-absolutes pattern %q: %w", p, compileErr)
				return
			}
			r.allowedRE = append(r.allowedRE, re)
		}
		for _, p := range r.DeterministicPatterns {
			re, compileErr := regexp.Compile(p)
			if compileErr != nil {
				err = fmt.Errorf("invalid deterministic pattern %q: %w", p, compileErr)
				return
			}
			r.deterministicRE = append(r.deterministicRE, re)
		}
		for _, p := range r.SourceReferencePatterns {
			re, compileErr := regexp.Compile(p)
			if compileErr != nil {
				err = fmt.Errorf("invalid source-reference pattern %q: %w", p, compileErr)
				return
			}
			r.sourceRefRE = append(r.sourceRefRE, re)
		}
		r.stopWordSet = make(map[string]bool, len(r.StopWords))
		for _, w := range r.StopWords {
			r.stopWordSet[w] = true
		}
	})
	return err
}

// RuleSet holds the active rules behind a lock so a file watcher can
// swap them atomically while turns are in flight.
type RuleSet struct {
	mu      sync.RWMutex
	rules   *Rules
	path    string
	watcher *fsnotify.Watcher

	// Configured anchor budget overrides, zero when unset. Applied over
	// the loaded rules and re-applied on every reload.
	anchorFastMS int
	anchorDeepMS int
}

// NewRuleSet loads rules from path ("" for defaults) and, when watch is
// set, re-reads the file on change.
func NewRuleSet(path string, watch bool) (*RuleSet, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	if err := rules.compile(); err != nil {
		return nil, err
	}

	rs := &RuleSet{rules: rules, path: path}
	if watch && path != "" {
		if err := rs.startWatcher(); err != nil {
			slog.Warn("epistemic rules watcher unavailable", "path", path, "error", err)
		}
	}
	return rs, nil
}

// SetAnchorBudgets overrides the anchor time budgets from application
// configuration. Zero values leave the rule file's budgets in place.
func (rs *RuleSet) SetAnchorBudgets(fastMS, deepMS int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.anchorFastMS = fastMS
	rs.anchorDeepMS = deepMS
	rs.applyAnchorBudgetsLocked()
}

func (rs *RuleSet) applyAnchorBudgetsLocked() {
	if rs.anchorFastMS > 0 {
		rs.rules.Anchor.FastBudgetMS = rs.anchorFastMS
	}
	if rs.anchorDeepMS > 0 {
		rs.rules.Anchor.DeepBudgetMS = rs.anchorDeepMS
	}
}

// Current returns the active rules. The returned value is read-only.
func (rs *RuleSet) Current() *Rules {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.rules
}

// Close stops the watcher, if one is running.
func (rs *RuleSet) Close() error {
	if rs.watcher != nil {
		return rs.watcher.Close()
	}
	return nil
}

func (rs *RuleSet) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace files rather than write in
	// place, which drops the watch on the file itself.
	if err := watcher.Add(filepath.Dir(rs.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	rs.watcher = watcher

	go func() {
		target := filepath.Clean(rs.path)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				rs.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("epistemic rules watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (rs *RuleSet) reload() {
	rules, err := LoadRules(rs.path)
	if err != nil {
		slog.Warn("failed to reload epistemic rules, keeping previous", "path", rs.path, "error", err)
		return
	}
	if err := rules.compile(); err != nil {
		slog.Warn("failed to compile reloaded epistemic rules, keeping previous", "path", rs.path, "error", err)
		return
	}

	rs.mu.Lock()
	rs.rules = rules
	rs.applyAnchorBudgetsLocked()
	rs.mu.Unlock()
	slog.Info("epistemic rules reloaded", "path", rs.path)
}
