package epistemic

import "strings"

// AnswerType is the epistemic class of a response.
type AnswerType string

const (
	AnswerDeterministic     AnswerType = "deterministic"
	AnswerGroundedDirect    AnswerType = "grounded_direct"
	AnswerGroundedContested AnswerType = "grounded_contested"
	AnswerUngrounded        AnswerType = "ungrounded"
)

// Contestation levels.
const (
	LevelIntraTradition = "C1"
	LevelCrossTradition = "C2"
	LevelMinority       = "C3"
)

// Classification describes how a response relates to evidence.
type Classification struct {
	Type       AnswerType
	Confidence float64
	Reason     string

	// Grounding
	HasCitations bool
	SourceCount  int

	// Contestation
	Contested    bool
	Domains      []string
	Level        string
	Topic        string
	Alternatives []string
}

// QueryType hints from the router about what was asked.
type QueryType string

const (
	QueryCount    QueryType = "count"
	QueryList     QueryType = "list"
	QuerySchedule QueryType = "schedule"
	QueryStatus   QueryType = "status"
	QueryGeneral  QueryType = "general"
)

// Classify decides the answer type. Deterministic wins, then contested
// markers, then grounding patterns or supplied sources, else
// ungrounded.
func Classify(rules *Rules, text string, queryType QueryType, sourceCount int) *Classification {
	switch queryType {
	case QueryCount, QueryList, QuerySchedule, QueryStatus:
		return &Classification{
			Type:       AnswerDeterministic,
			Confidence: 1.0,
			Reason:     "mechanical query type",
		}
	}
	for _, re := range rules.deterministicRE {
		if re.MatchString(text) {
			return &Classification{
				Type:       AnswerDeterministic,
				Confidence: 0.95,
				Reason:     "deterministic phrasing",
			}
		}
	}

	grounded := sourceCount > 0
	citations := false
	for _, re := range rules.sourceRefRE {
		if re.MatchString(text) {
			grounded = true
			citations = true
			break
		}
	}

	if c := detectContestation(rules, text); c != nil {
		c.HasCitations = citations
		c.SourceCount = sourceCount
		return c
	}

	if grounded {
		return &Classification{
			Type:         AnswerGroundedDirect,
			Confidence:   0.85,
			Reason:       "source references present",
			HasCitations: citations,
			SourceCount:  sourceCount,
		}
	}

	return &Classification{
		Type:       AnswerUngrounded,
		Confidence: 0.7,
		Reason:     "no sources or grounding patterns",
	}
}

// detectContestation scans for contested-topic markers. The strongest
// level among matches wins; its topic supplies the alternatives.
func detectContestation(rules *Rules, text string) *Classification {
	lower := strings.ToLower(text)

	var (
		domains      []string
		level        string
		topic        string
		alternatives []string
	)
	seenDomain := make(map[string]bool)

	for _, domain := range rules.Contested {
		for _, t := range domain.Topics {
			if !strings.Contains(lower, strings.ToLower(t.Marker)) {
				continue
			}
			if !seenDomain[domain.Domain] {
				seenDomain[domain.Domain] = true
				domains = append(domains, domain.Domain)
			}
			if levelRank(t.Level) > levelRank(level) {
				level = t.Level
				topic = t.Marker
				alternatives = t.Alternatives
			}
		}
	}
	if len(domains) == 0 {
		return nil
	}

	return &Classification{
		Type:         AnswerGroundedContested,
		Confidence:   0.8,
		Reason:       "contested-domain marker: " + topic,
		Contested:    true,
		Domains:      domains,
		Level:        level,
		Topic:        topic,
		Alternatives: alternatives,
	}
}

func levelRank(level string) int {
	switch level {
	case LevelIntraTradition:
		return 1
	case LevelCrossTradition:
		return 2
	case LevelMinority:
		return 3
	}
	return 0
}
