// Package hermeneutic implements the optional textual-study overlay:
// pre-answer frame challenges and post-answer framework disclosures for
// conversations that declare a study profile.
package hermeneutic

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marginalia-ai/marginalia/pkg/config"
)

// Profile defines one study tradition's frames and frameworks.
type Profile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// FramePatterns fire on the user's question before answering.
	FramePatterns []FramePattern `yaml:"frame_patterns"`

	// Frameworks are interpretive lenses whose use in an answer
	// requires disclosure.
	Frameworks []Framework `yaml:"frameworks"`
}

// FramePattern detects an assumption smuggled into a question.
type FramePattern struct {
	Pattern   string `yaml:"pattern"`
	Challenge string `yaml:"challenge"`

	re *regexp.Regexp
}

// Framework is a named interpretive lens with marker phrases.
type Framework struct {
	Name       string   `yaml:"name"`
	Markers    []string `yaml:"markers"`
	Disclosure string   `yaml:"disclosure"`
}

// Constraints are profile-independent patterns the overlay always
// checks answers against.
type Constraints struct {
	HarmonizationPatterns []string `yaml:"harmonization_patterns"`
	SofteningPatterns     []string `yaml:"softening_patterns"`

	harmonizationRE []*regexp.Regexp
	softeningRE     []*regexp.Regexp
}

// WarningKind classifies an overlay warning.
type WarningKind string

const (
	WarnHarmonization WarningKind = "premature_harmonization"
	WarnSoftening     WarningKind = "comfort_softening"
)

// Warning is surfaced in the turn trace, never in the answer.
type Warning struct {
	Kind WarningKind
	Span string
}

// Overlay holds loaded profiles and constraints. Load once at startup;
// read-only afterwards.
type Overlay struct {
	profiles    map[string]*Profile
	constraints *Constraints
}

// Load reads the constraints file and every profile YAML in the
// profiles directory. Both paths are optional; missing pieces leave an
// overlay that does nothing.
func Load(cfg config.HermeneuticConfig) (*Overlay, error) {
	overlay := &Overlay{
		profiles:    make(map[string]*Profile),
		constraints: defaultConstraints(),
	}

	if cfg.ConstraintsPath != "" {
		data, err := os.ReadFile(cfg.ConstraintsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read constraints file: %w", err)
		}
		var constraints Constraints
		if err := yaml.Unmarshal(data, &constraints); err != nil {
			return nil, fmt.Errorf("failed to parse constraints file: %w", err)
		}
		if len(constraints.HarmonizationPatterns) > 0 {
			overlay.constraints.HarmonizationPatterns = constraints.HarmonizationPatterns
		}
		if len(constraints.SofteningPatterns) > 0 {
			overlay.constraints.SofteningPatterns = constraints.SofteningPatterns
		}
	}
	if err := overlay.constraints.compile(); err != nil {
		return nil, err
	}

	if cfg.ProfilesDir != "" {
		paths, err := filepath.Glob(filepath.Join(cfg.ProfilesDir, "*.yaml"))
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			profile, err := loadProfile(path)
			if err != nil {
				return nil, err
			}
			overlay.profiles[profile.Name] = profile
		}
	}

	return overlay, nil
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if profile.Name == "" {
		profile.Name = strings.TrimSuffix(filepath.Base(path), ".yaml")
	}
	for i := range profile.FramePatterns {
		re, err := regexp.Compile("(?i)" + profile.FramePatterns[i].Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid frame pattern in %s: %w", path, err)
		}
		profile.FramePatterns[i].re = re
	}
	return &profile, nil
}

func defaultConstraints() *Constraints {
	return &Constraints{
		HarmonizationPatterns: []string{
			`(?i)\bboth passages? (really|actually|ultimately) (say|teach|mean)\b`,
			`(?i)\bthere is no (real |actual )?(tension|contradiction|conflict)\b`,
			`(?i)\beasily reconciled\b`,
		},
		SofteningPatterns: []string{
			`(?i)\bdon'?t worry\b`,
			`(?i)\bno need to be troubled\b`,
			`(?i)\bcomforting(ly)? (thought|truth)\b`,
		},
	}
}

func (c *Constraints) compile() error {
	for _, p := range c.HarmonizationPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("invalid harmonization pattern %q: %w", p, err)
		}
		c.harmonizationRE = append(c.harmonizationRE, re)
	}
	for _, p := range c.SofteningPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("invalid softening pattern %q: %w", p, err)
		}
		c.softeningRE = append(c.softeningRE, re)
	}
	return nil
}

// HasProfile reports whether a named profile is loaded.
func (o *Overlay) HasProfile(name string) bool {
	_, ok := o.profiles[name]
	return ok
}

// PreAnswer scans the user message for frame assumptions and returns a
// system-prompt addition challenging each detected frame. Empty when no
// profile is declared or no frame fires.
func (o *Overlay) PreAnswer(profileName, message string) string {
	profile, ok := o.profiles[profileName]
	if !ok {
		return ""
	}

	var challenges []string
	for _, fp := range profile.FramePatterns {
		if fp.re != nil && fp.re.MatchString(message) {
			challenges = append(challenges, fp.Challenge)
		}
	}
	if len(challenges) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Before answering, challenge the question's framing:\n")
	for _, challenge := range challenges {
		b.WriteString("- " + challenge + "\n")
	}
	return b.String()
}

// PostAnswer scans the generated text for framework usage and
// constraint violations. The disclosure block is appended to the
// answer; warnings go to the trace only.
func (o *Overlay) PostAnswer(profileName, text string) (string, []Warning) {
	warnings := o.scanConstraints(text)

	profile, ok := o.profiles[profileName]
	if !ok {
		return "", warnings
	}

	lower := strings.ToLower(text)
	var disclosures []string
	for _, framework := range profile.Frameworks {
		for _, marker := range framework.Markers {
			if strings.Contains(lower, strings.ToLower(marker)) {
				disclosures = append(disclosures, framework.Name+": "+framework.Disclosure)
				break
			}
		}
	}
	if len(disclosures) == 0 {
		return "", warnings
	}

	var b strings.Builder
	b.WriteString("Frameworks used:\n")
	for _, d := range disclosures {
		b.WriteString("- " + d + "\n")
	}
	return b.String(), warnings
}

func (o *Overlay) scanConstraints(text string) []Warning {
	var warnings []Warning
	for _, re := range o.constraints.harmonizationRE {
		if span := re.FindString(text); span != "" {
			warnings = append(warnings, Warning{Kind: WarnHarmonization, Span: span})
		}
	}
	for _, re := range o.constraints.softeningRE {
		if span := re.FindString(text); span != "" {
			warnings = append(warnings, Warning{Kind: WarnSoftening, Span: span})
		}
	}
	return warnings
}
