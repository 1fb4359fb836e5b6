package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marginalia-ai/marginalia/pkg/agents"
)

// composeResponse turns the pipeline's outputs into the user-facing
// text. The last output with content wins; earlier outputs were
// intermediate material. Citations accumulate across every output.
func composeResponse(outputs []*agents.Output) (string, []agents.Citation) {
	var citations []agents.Citation
	var last *agents.Output
	for _, out := range outputs {
		citations = append(citations, out.Citations...)
		if hasContent(out) {
			last = out
		}
	}
	if last == nil {
		return "", nil
	}

	citations = dedupeCitations(citations)

	switch {
	case last.Content.Text != "":
		return withSources(last.Content.Text, citations), citations

	case last.Content.ResearchNotes != nil:
		return withSources(renderNotes(last.Content.ResearchNotes), citations), citations

	case last.Content.ProjectPlan != nil:
		return renderPlan(last.Content.ProjectPlan), citations

	case last.Content.CodeArtifacts != nil:
		return renderArtifacts(last.Content.CodeArtifacts), citations

	case last.Content.MemoryChanges != nil:
		return last.Content.MemoryChanges.Ack, citations
	}
	return "", citations
}

func hasContent(out *agents.Output) bool {
	c := out.Content
	return c.Text != "" || c.ResearchNotes != nil || c.ProjectPlan != nil ||
		c.CodeArtifacts != nil || c.MemoryChanges != nil
}

// renderNotes formats researcher output that reaches the user directly,
// when no writer follows in the sequence.
func renderNotes(notes *agents.ResearchNotes) string {
	var b strings.Builder
	b.WriteString(notes.Summary)

	if len(notes.Findings) > 0 {
		b.WriteString("\n\nKey findings:\n")
		for _, f := range notes.Findings {
			b.WriteString("- " + f.Claim)
			if f.File != "" {
				if f.Page > 0 {
					fmt.Fprintf(&b, " (%s, p.%d)", f.File, f.Page)
				} else {
					fmt.Fprintf(&b, " (%s)", f.File)
				}
			}
			b.WriteString("\n")
		}
	}
	if len(notes.Themes) > 0 {
		b.WriteString("\nThemes:\n")
		for _, t := range notes.Themes {
			b.WriteString("- " + t + "\n")
		}
	}
	if len(notes.Contradictions) > 0 {
		b.WriteString("\nTensions in the sources:\n")
		for _, c := range notes.Contradictions {
			b.WriteString("- " + c + "\n")
		}
	}
	if len(notes.Gaps) > 0 {
		b.WriteString("\nGaps:\n")
		for _, g := range notes.Gaps {
			b.WriteString("- " + g + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderPlan(plan *agents.ProjectPlan) string {
	var b strings.Builder
	if len(plan.ClarifyingQuestions) > 0 {
		b.WriteString("Before I plan this, a few questions:\n")
		for _, q := range plan.ClarifyingQuestions {
			b.WriteString("- " + q + "\n")
		}
		return strings.TrimRight(b.String(), "\n")
	}

	b.WriteString("Here's the plan:\n")
	for i, task := range plan.Tasks {
		fmt.Fprintf(&b, "%d. %s", i+1, task.Description)
		if len(task.DependsOn) > 0 {
			deps := make([]string, len(task.DependsOn))
			for j, d := range task.DependsOn {
				deps[j] = fmt.Sprintf("%d", d+1)
			}
			fmt.Fprintf(&b, " (after %s)", strings.Join(deps, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderArtifacts(artifacts *agents.CodeArtifacts) string {
	var b strings.Builder
	if artifacts.Explanation != "" {
		b.WriteString(artifacts.Explanation)
	}
	for _, a := range artifacts.Artifacts {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if a.Filename != "" {
			b.WriteString(a.Filename + ":\n")
		}
		fmt.Fprintf(&b, "```%s\n%s\n```", a.Language, strings.TrimRight(a.Code, "\n"))
	}
	return b.String()
}

// withSources appends a source list grouped by file, with page numbers
// collected per file.
func withSources(text string, citations []agents.Citation) string {
	if len(citations) == 0 {
		return text
	}

	type fileRef struct {
		file  string
		pages []int
	}
	var order []string
	byFile := make(map[string]*fileRef)
	for _, c := range citations {
		ref, ok := byFile[c.File]
		if !ok {
			ref = &fileRef{file: c.File}
			byFile[c.File] = ref
			order = append(order, c.File)
		}
		if c.Page > 0 && !containsInt(ref.pages, c.Page) {
			ref.pages = append(ref.pages, c.Page)
		}
	}

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nSources:\n")
	for _, file := range order {
		ref := byFile[file]
		sort.Ints(ref.pages)
		switch len(ref.pages) {
		case 0:
			fmt.Fprintf(&b, "- %s\n", ref.file)
		case 1:
			fmt.Fprintf(&b, "- %s (p. %d)\n", ref.file, ref.pages[0])
		default:
			pages := make([]string, len(ref.pages))
			for i, p := range ref.pages {
				pages[i] = fmt.Sprintf("%d", p)
			}
			fmt.Fprintf(&b, "- %s (pp. %s)\n", ref.file, strings.Join(pages, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func dedupeCitations(citations []agents.Citation) []agents.Citation {
	seen := make(map[string]bool)
	out := make([]agents.Citation, 0, len(citations))
	for _, c := range citations {
		key := fmt.Sprintf("%s:%d", c.File, c.Page)
		if c.File == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
