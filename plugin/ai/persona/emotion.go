package persona

import "strings"

// DeriveEmotion tags a reply by matching the user message against the persona's triggers.
// Frustration triggers are checked before excitement triggers and the first
// case-insensitive substring match wins; otherwise the baseline mood is returned.
func DeriveEmotion(p *Profile, userText string) string {
	lower := strings.ToLower(userText)
	for _, trigger := range p.Emotional.FrustrationTriggers {
		if matches(lower, trigger) {
			return EmotionFrustrated
		}
	}
	for _, trigger := range p.Emotional.ExcitementTriggers {
		if matches(lower, trigger) {
			return EmotionExcited
		}
	}
	if p.Emotional.BaselineMood == "" {
		return DefaultMood
	}
	return p.Emotional.BaselineMood
}

func matches(lowerText, trigger string) bool {
	if trigger == "" {
		return false
	}
	return strings.Contains(lowerText, strings.ToLower(trigger))
}
