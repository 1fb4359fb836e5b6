package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSequence(t *testing.T) {
	tests := []struct {
		name       string
		intents    []string
		hasProject bool
		scholar    bool
		projectRef bool
		want       []string
	}{
		{"memory wins over everything", []string{"memory", "write"}, true, true, true, []string{"archivist"}},
		{"plan", []string{"plan"}, false, false, false, []string{"planner"}},
		{"code with project", []string{"code"}, true, false, false, []string{"researcher", "engineer"}},
		{"code referencing project", []string{"code"}, false, false, true, []string{"researcher", "engineer"}},
		{"code standalone", []string{"code"}, false, false, false, []string{"engineer"}},
		{"scholarly writing", []string{"write"}, false, true, false, []string{"researcher", "writer"}},
		{"plain writing", []string{"write"}, false, false, false, []string{"writer"}},
		{"research then write in a project", []string{"research", "write"}, true, false, false, []string{"researcher", "writer"}},
		{"project research", []string{"research"}, true, false, false, []string{"researcher"}},
		{"scholarly research and summary", []string{"research", "summarize"}, false, true, false, []string{"researcher", "writer"}},
		{"general research", []string{"research"}, false, false, false, nil},
		{"project summary", []string{"summarize"}, true, false, false, []string{"researcher", "writer"}},
		{"general summary", []string{"summarize"}, false, false, false, nil},
		{"scholarly explanation", []string{"explain"}, false, true, false, []string{"researcher", "writer"}},
		{"general explanation", []string{"explain"}, false, false, false, nil},
		{"no intents", nil, true, true, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSequence(tt.intents, tt.hasProject, tt.scholar, tt.projectRef)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScholarlyDetection(t *testing.T) {
	assert.True(t, scholarly("What does the epistle to the Romans say about the law?"))
	assert.True(t, scholarly("Compare the Septuagint rendering here"))
	assert.True(t, scholarly("a question of covenantal theology"))
	assert.False(t, scholarly("summarize the quarterly budget report"))
	assert.False(t, scholarly("how do I test a goroutine"))
}

func TestReferencesProject(t *testing.T) {
	assert.True(t, referencesProject("clean up the code in the ingest package"))
	assert.True(t, referencesProject("does this file follow our conventions?"))
	assert.True(t, referencesProject("search the codebase for usages"))
	assert.False(t, referencesProject("write a sorting function in Go"))
}

func TestNeedsRetrieval(t *testing.T) {
	assert.False(t, needsRetrieval(nil, []string{"research"}, true),
		"no agents means no retrieval")
	assert.True(t, needsRetrieval([]string{"researcher"}, []string{"research"}, true))
	assert.True(t, needsRetrieval([]string{"writer"}, []string{"write"}, false),
		"sourced intents retrieve even without a project")
	assert.True(t, needsRetrieval([]string{"engineer"}, []string{"code"}, true),
		"a project is always worth searching")
	assert.False(t, needsRetrieval([]string{"engineer"}, []string{"code"}, false))
	assert.False(t, needsRetrieval([]string{"archivist"}, []string{"memory"}, false))
}
