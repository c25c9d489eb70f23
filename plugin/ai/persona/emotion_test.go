package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDeriveEmotion 测试情绪推导：挫败触发词优先，其次兴奋触发词，否则为基线情绪
func TestDeriveEmotion(t *testing.T) {
	p := &Profile{
		ID: "alice",
		Emotional: Emotional{
			BaselineMood:        "cheerful",
			FrustrationTriggers: []string{"deadline", "Budget Cut"},
			ExcitementTriggers:  []string{"launch"},
		},
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"frustration", "The DEADLINE moved again", EmotionFrustrated},
		{"case insensitive trigger", "another budget cut?", EmotionFrustrated},
		{"excitement", "We launch tomorrow!", EmotionExcited},
		{"frustration wins over excitement", "launch before the deadline", EmotionFrustrated},
		{"substring match", "relaunching", EmotionExcited},
		{"baseline", "hello", "cheerful"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveEmotion(p, tt.text))
		})
	}

	assert.Equal(t, DefaultMood, DeriveEmotion(&Profile{Emotional: Emotional{ExcitementTriggers: []string{""}}}, "x"))
}
