package router

import (
	"regexp"

	"github.com/marginalia-ai/marginalia/pkg/intent"
)

// Agent names the sequence table emits. They match the registry keys.
const (
	agentResearcher = "researcher"
	agentWriter     = "writer"
	agentEngineer   = "engineer"
	agentArchivist  = "archivist"
	agentPlanner    = "planner"
)

// scholarlyPattern detects questions in the user's textual-study
// register. A hit routes through the researcher even without a project,
// and turns on scholar mode for every agent in the sequence.
var scholarlyPattern = regexp.MustCompile(`(?i)\b(scriptures?|biblical|bible|exege(sis|tical)|hermeneutic\w*|theolog\w*|covenant(al)?|epistles?|gospels?|torah|septuagint|vulgate|patristic\w*|soteriolog\w*|christolog\w*|eschatolog\w*|ecclesiolog\w*|pauline|mosaic law|church fathers)\b`)

// projectRefPattern detects a message leaning on project material even
// when it does not name a file.
var projectRefPattern = regexp.MustCompile(`(?i)\b(the code|this (file|module|function|repo)|that file|our (pattern|patterns|codebase|project|conventions?|style)|the (codebase|repo|repository|project files?))\b`)

func scholarly(message string) bool {
	return scholarlyPattern.MatchString(message)
}

func referencesProject(message string) bool {
	return projectRefPattern.MatchString(message)
}

// buildSequence maps classified intents and context flags to the agent
// pipeline for the turn. An empty result means a single LLM call serves
// the message better than the pipeline.
func buildSequence(intents []string, hasProject, scholar, projectRef bool) []string {
	if len(intents) == 0 {
		return nil
	}
	has := func(name string) bool {
		for _, i := range intents {
			if i == name {
				return true
			}
		}
		return false
	}

	switch {
	case has(intent.IntentMemory):
		return []string{agentArchivist}

	case has(intent.IntentPlan):
		return []string{agentPlanner}

	case has(intent.IntentCode):
		if hasProject || projectRef {
			return []string{agentResearcher, agentEngineer}
		}
		return []string{agentEngineer}

	case has(intent.IntentWrite):
		if scholar || (has(intent.IntentResearch) && hasProject) {
			return []string{agentResearcher, agentWriter}
		}
		return []string{agentWriter}

	case has(intent.IntentResearch):
		if hasProject || scholar {
			if has(intent.IntentSummarize) {
				return []string{agentResearcher, agentWriter}
			}
			return []string{agentResearcher}
		}
		// General research with no grounding corpus: one model call.
		return nil

	case has(intent.IntentSummarize):
		if hasProject {
			return []string{agentResearcher, agentWriter}
		}
		return nil

	case has(intent.IntentExplain):
		if hasProject || scholar {
			return []string{agentResearcher, agentWriter}
		}
		return nil
	}
	return nil
}

// Intents whose answers benefit from document retrieval.
var retrievalIntents = map[string]bool{
	intent.IntentResearch:  true,
	intent.IntentWrite:     true,
	intent.IntentSummarize: true,
	intent.IntentExplain:   true,
}

// needsRetrieval reports whether the turn should search the corpus:
// only when agents will run, and only when there is a project to search
// or the intents want source material.
func needsRetrieval(sequence, intents []string, hasProject bool) bool {
	if len(sequence) == 0 {
		return false
	}
	if hasProject {
		return true
	}
	for _, i := range intents {
		if retrievalIntents[i] {
			return true
		}
	}
	return false
}
