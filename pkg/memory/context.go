package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ContextSelection is the set of memories chosen for prompt injection.
type ContextSelection struct {
	Core     []Memory
	LongTerm []Scored
	Episodic []Scored
}

// All flattens the selection in injection order.
func (c *ContextSelection) All() []Memory {
	out := make([]Memory, 0, len(c.Core)+len(c.LongTerm)+len(c.Episodic))
	out = append(out, c.Core...)
	for _, s := range c.LongTerm {
		out = append(out, s.Memory)
	}
	for _, s := range c.Episodic {
		out = append(out, s.Memory)
	}
	return out
}

// IDs returns the ids of every selected memory.
func (c *ContextSelection) IDs() []string {
	all := c.All()
	ids := make([]string, len(all))
	for i, m := range all {
		ids[i] = m.ID
	}
	return ids
}

// Empty reports whether nothing was selected.
func (c *ContextSelection) Empty() bool {
	return len(c.Core) == 0 && len(c.LongTerm) == 0 && len(c.Episodic) == 0
}

// MemoriesForContext selects memories for a turn: every core memory,
// up to 8 long_term hits scoring at least the long_term threshold, and
// up to 3 episodic hits scoring at least the episodic threshold, capped
// at max_context_memories overall with core never evicted. Selected
// memories have their access recorded; a failed access write does not
// fail the selection.
func (s *Store) MemoriesForContext(ctx context.Context, query, userID string) (*ContextSelection, error) {
	selection := &ContextSelection{}

	core, err := s.GetByTier(ctx, userID, TierCore)
	if err != nil {
		return nil, fmt.Errorf("failed to load core memories: %w", err)
	}
	selection.Core = core

	longTerm, err := s.Search(ctx, query, userID, TierLongTerm, 8)
	if err != nil {
		return nil, err
	}
	for _, hit := range longTerm {
		if hit.Score >= s.cfg.LongTermThreshold {
			selection.LongTerm = append(selection.LongTerm, hit)
		}
	}

	episodic, err := s.Search(ctx, query, userID, TierEpisodic, 3)
	if err != nil {
		return nil, err
	}
	for _, hit := range episodic {
		if hit.Score >= s.cfg.EpisodicThreshold {
			selection.Episodic = append(selection.Episodic, hit)
		}
	}

	// Overall cap trims episodic first, then long_term. Core is exempt.
	cap := s.cfg.MaxContextMemories
	if cap > 0 {
		total := len(selection.Core) + len(selection.LongTerm) + len(selection.Episodic)
		for total > cap && len(selection.Episodic) > 0 {
			selection.Episodic = selection.Episodic[:len(selection.Episodic)-1]
			total--
		}
		for total > cap && len(selection.LongTerm) > 0 {
			selection.LongTerm = selection.LongTerm[:len(selection.LongTerm)-1]
			total--
		}
	}

	if ids := selection.IDs(); len(ids) > 0 {
		if err := s.RecordAccess(ctx, ids); err != nil {
			slog.Warn("failed to record memory access", "count", len(ids), "error", err)
		}
	}
	return selection, nil
}

// FormatForPrompt renders a selection as a system-prompt block. Core
// memories appear under "Always remember"; retrieved memories under
// "Relevant context". Returns "" for an empty selection.
func FormatForPrompt(selection *ContextSelection) string {
	if selection == nil || selection.Empty() {
		return ""
	}

	var b strings.Builder
	if len(selection.Core) > 0 {
		b.WriteString("Always remember:\n")
		for _, m := range selection.Core {
			fmt.Fprintf(&b, "- [%s] %s\n", m.Category, m.Content)
		}
	}

	if len(selection.LongTerm) > 0 || len(selection.Episodic) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Relevant context:\n")
		for _, hit := range selection.LongTerm {
			fmt.Fprintf(&b, "- [%s] %s\n", hit.Memory.Category, hit.Memory.Content)
		}
		for _, hit := range selection.Episodic {
			fmt.Fprintf(&b, "- [%s] %s\n", hit.Memory.Category, hit.Memory.Content)
		}
	}
	return b.String()
}
