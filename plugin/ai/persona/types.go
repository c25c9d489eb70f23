// Package persona holds persona behavioral profiles and the pure transforms
// (humanization, emotion) applied to a persona's replies.
// Package persona 定义角色行为画像，以及作用于角色回复的纯函数变换（拟人化、情绪）。
package persona

import (
	"fmt"
	"strings"
)

// Status is the lifecycle status of a persona.
type Status string

const (
	StatusActive   Status = "active"
	StatusSleeping Status = "sleeping"
	StatusArchived Status = "archived"
)

// Speed is a persona's comprehension speed, used by the timing model.
type Speed string

const (
	SpeedSlow   Speed = "slow"
	SpeedNormal Speed = "normal"
	SpeedFast   Speed = "fast"
)

// Speech styles.
const (
	StyleNormal = "normal"
	StyleShort  = "short"
)

// DefaultShortSentenceWords is the sentence length the "short" style shapes towards.
const DefaultShortSentenceWords = 12

// DefaultMood is the baseline mood of a persona that declares none.
const DefaultMood = "neutral"

// Emotion tags derived from trigger matches.
const (
	EmotionFrustrated = "frustrated"
	EmotionExcited    = "excited"
)

// Profile is the read view of a persona.
// Profile 是角色的只读视图。
type Profile struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Status            Status     `json:"status"`
	SystemInstruction string     `json:"systemInstruction"`
	Speech            Speech     `json:"speech"`
	Vocabulary        Vocabulary `json:"vocabulary"`
	Emotional         Emotional  `json:"emotional"`
	Cognitive         Cognitive  `json:"cognitive"`
	Generation        Generation `json:"generation"`
}

// Speech controls surface form of replies and prompt hints.
type Speech struct {
	Style            string   `json:"style"`
	MaxSentenceWords int      `json:"maxSentenceWords"`
	Contractions     bool     `json:"contractions"`
	Hints            []string `json:"hints,omitempty"`
}

// Substitution replaces an avoided word with a preferred one.
type Substitution struct {
	Word        string `json:"word"`
	Replacement string `json:"replacement"`
}

// Vocabulary holds the persona's lexical constraints.
type Vocabulary struct {
	Substitutions []Substitution `json:"substitutions,omitempty"`
}

// Emotional holds mood parameters.
type Emotional struct {
	BaselineMood        string   `json:"baselineMood"`
	FrustrationTriggers []string `json:"frustrationTriggers,omitempty"`
	ExcitementTriggers  []string `json:"excitementTriggers,omitempty"`
}

// Cognitive holds parameters used by the timing model.
type Cognitive struct {
	ComprehensionSpeed Speed `json:"comprehensionSpeed"`
}

// Generation holds per-persona sampling parameters. Zero values fall back to the server defaults.
type Generation struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// IsActive reports whether the persona may take part in a round.
func (p *Profile) IsActive() bool {
	return p.Status == StatusActive
}

// Normalize resolves missing fields to explicit defaults and rejects values outside the closed sets.
// Normalize 在边界处补齐默认值并校验枚举字段。
func (p *Profile) Normalize(defaults Generation) error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return fmt.Errorf("persona id is required")
	}
	if p.Name == "" {
		p.Name = p.ID
	}

	switch p.Status {
	case "":
		p.Status = StatusActive
	case StatusActive, StatusSleeping, StatusArchived:
	default:
		return fmt.Errorf("persona %s: unknown status %q", p.ID, p.Status)
	}

	switch p.Cognitive.ComprehensionSpeed {
	case SpeedSlow, SpeedFast, SpeedNormal:
	default:
		p.Cognitive.ComprehensionSpeed = SpeedNormal
	}

	switch p.Speech.Style {
	case StyleShort:
		if p.Speech.MaxSentenceWords <= 0 {
			p.Speech.MaxSentenceWords = DefaultShortSentenceWords
		}
	case "", StyleNormal:
		p.Speech.Style = StyleNormal
	default:
		return fmt.Errorf("persona %s: unknown speech style %q", p.ID, p.Speech.Style)
	}

	subs := p.Vocabulary.Substitutions[:0]
	for _, s := range p.Vocabulary.Substitutions {
		s.Word = strings.TrimSpace(s.Word)
		if s.Word == "" {
			continue
		}
		subs = append(subs, s)
	}
	p.Vocabulary.Substitutions = subs

	if p.Emotional.BaselineMood == "" {
		p.Emotional.BaselineMood = DefaultMood
	}

	if p.Generation.Temperature <= 0 {
		p.Generation.Temperature = defaults.Temperature
	}
	if p.Generation.MaxTokens <= 0 {
		p.Generation.MaxTokens = defaults.MaxTokens
	}
	return nil
}

// Instruction returns the system instruction with speech hints appended.
func (p *Profile) Instruction() string {
	if len(p.Speech.Hints) == 0 {
		return p.SystemInstruction
	}
	var b strings.Builder
	b.WriteString(p.SystemInstruction)
	if p.SystemInstruction != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("Speaking style:")
	for _, h := range p.Speech.Hints {
		b.WriteString("\n- ")
		b.WriteString(h)
	}
	return b.String()
}

// Clone returns a deep copy so callers cannot mutate provider state.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Speech.Hints = append([]string(nil), p.Speech.Hints...)
	c.Vocabulary.Substitutions = append([]Substitution(nil), p.Vocabulary.Substitutions...)
	c.Emotional.FrustrationTriggers = append([]string(nil), p.Emotional.FrustrationTriggers...)
	c.Emotional.ExcitementTriggers = append([]string(nil), p.Emotional.ExcitementTriggers...)
	return &c
}
