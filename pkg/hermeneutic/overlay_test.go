package hermeneutic

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-ai/marginalia/pkg/config"
)

const testProfile = `
name: reformed-study
description: test profile
frame_patterns:
  - pattern: 'why does paul contradict'
    challenge: "The question assumes a contradiction; establish whether the passages address the same issue first."
frameworks:
  - name: covenant-theology
    markers: ["covenant of grace", "covenant of works"]
    disclosure: "Reads the passage through a covenantal structure not explicit in the text."
`

func loadTestOverlay(t *testing.T) *Overlay {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reformed-study.yaml"), []byte(testProfile), 0644))

	overlay, err := Load(config.HermeneuticConfig{ProfilesDir: dir})
	require.NoError(t, err)
	return overlay
}

func TestPreAnswerFrameChallenge(t *testing.T) {
	overlay := loadTestOverlay(t)

	addition := overlay.PreAnswer("reformed-study", "Why does Paul contradict James on faith and works?")
	assert.Contains(t, addition, "challenge the question's framing")
	assert.Contains(t, addition, "assumes a contradiction")
}

func TestPreAnswerNoFrame(t *testing.T) {
	overlay := loadTestOverlay(t)
	assert.Empty(t, overlay.PreAnswer("reformed-study", "What does Romans 8 say about the law?"))
}

func TestPreAnswerUndeclaredProfile(t *testing.T) {
	overlay := loadTestOverlay(t)
	assert.Empty(t, overlay.PreAnswer("", "Why does Paul contradict James?"))
	assert.Empty(t, overlay.PreAnswer("unknown", "Why does Paul contradict James?"))
	assert.False(t, overlay.HasProfile("unknown"))
	assert.True(t, overlay.HasProfile("reformed-study"))
}

func TestPostAnswerDisclosure(t *testing.T) {
	overlay := loadTestOverlay(t)

	disclosure, warnings := overlay.PostAnswer("reformed-study",
		"Under the covenant of grace, the passage reads differently.")
	assert.Contains(t, disclosure, "Frameworks used:")
	assert.Contains(t, disclosure, "covenant-theology")
	assert.Empty(t, warnings)
}

func TestPostAnswerWarnings(t *testing.T) {
	overlay := loadTestOverlay(t)

	_, warnings := overlay.PostAnswer("reformed-study",
		"There is no real tension here, so don't worry about the difference.")
	require.Len(t, warnings, 2)

	kinds := map[WarningKind]bool{}
	for _, w := range warnings {
		kinds[w.Kind] = true
	}
	assert.True(t, kinds[WarnHarmonization])
	assert.True(t, kinds[WarnSoftening])
}

func TestPostAnswerNoFrameworkNoDisclosure(t *testing.T) {
	overlay := loadTestOverlay(t)

	disclosure, _ := overlay.PostAnswer("reformed-study", "A plain reading of the passage.")
	assert.Empty(t, disclosure)
}

func TestLoadWithoutPaths(t *testing.T) {
	overlay, err := Load(config.HermeneuticConfig{})
	require.NoError(t, err)
	assert.Empty(t, overlay.PreAnswer("any", "why does paul contradict james"))

	// Constraint scanning still works with built-in patterns.
	_, warnings := overlay.PostAnswer("any", "These are easily reconciled.")
	assert.Len(t, warnings, 1)
}
