package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func shortSpeaker() *Profile {
	p := &Profile{
		ID: "alice",
		Speech: Speech{
			Style:        StyleShort,
			Contractions: true,
		},
		Vocabulary: Vocabulary{Substitutions: []Substitution{
			{Word: "utilize", Replacement: "use"},
			{Word: "leverage", Replacement: "build on"},
		}},
	}
	_ = p.Normalize(Generation{})
	return p
}

// TestHumanize 测试拟人化变换
func TestHumanize(t *testing.T) {
	plain := &Profile{ID: "plain"}
	_ = plain.Normalize(Generation{})

	tests := []struct {
		name    string
		profile *Profile
		input   string
		want    string
	}{
		{
			name:    "plain text unchanged",
			profile: plain,
			input:   "Hello there, how are you?",
			want:    "Hello there, how are you?",
		},
		{
			name:    "whitespace normalized",
			profile: plain,
			input:   "  Hello   there \n\n\n\nBye  ",
			want:    "Hello there\n\nBye",
		},
		{
			name:    "markdown stripped",
			profile: plain,
			input:   "**Sure!** Use `go test` and read [the docs](http://example.com).",
			want:    "Sure! Use `go test` and read the docs (http://example.com).",
		},
		{
			name:    "intraword emphasis kept literally",
			profile: plain,
			input:   "Compute 2*3*4 and tell me.",
			want:    "Compute 2*3*4 and tell me.",
		},
		{
			name:    "link destination kept",
			profile: plain,
			input:   "See [docs](http://example.com/x) **now**.",
			want:    "See docs (http://example.com/x) now.",
		},
		{
			name:    "link labelled with its url",
			profile: plain,
			input:   "**Go** to [http://example.com](http://example.com)",
			want:    "Go to http://example.com",
		},
		{
			name:    "ordered list numbers kept",
			profile: plain,
			input:   "**Steps**\n\n1. Open\n2. Close",
			want:    "Steps\n1. Open\n2. Close",
		},
		{
			name:    "ordered list start kept",
			profile: plain,
			input:   "# Later\n\n3) Wait\n4) Go",
			want:    "Later\n3) Wait\n4) Go",
		},
		{
			name:    "inline html kept",
			profile: plain,
			input:   "**Hi** use <div>x</div> here",
			want:    "Hi use <div>x</div> here",
		},
		{
			name:    "soft line breaks kept",
			profile: plain,
			input:   "**First** line\nsecond line",
			want:    "First line\nsecond line",
		},
		{
			name:    "fenced code kept verbatim",
			profile: plain,
			input:   "Try **this**:\n\n```go\nif x  {\n    return\n}\n```",
			want:    "Try this:\n```go\nif x  {\n    return\n}\n```",
		},
		{
			name:    "indented code becomes fenced",
			profile: plain,
			input:   "Run:\n\n    * a\n    * b",
			want:    "Run:\n```\n* a\n* b\n```",
		},
		{
			name:    "code block content untouched by substitutions",
			profile: shortSpeaker(),
			input:   "```\nI will not utilize it\n```",
			want:    "```\nI will not utilize it\n```",
		},
		{
			name:    "markdown list stripped",
			profile: plain,
			input:   "# Plan\n\n- first\n- second",
			want:    "Plan\nfirst\nsecond",
		},
		{
			name:    "substitution keeps case",
			profile: shortSpeaker(),
			input:   "Utilize it. We utilize it. UTILIZE IT.",
			want:    "Use it. We use it. USE IT.",
		},
		{
			name:    "substitution is whole word",
			profile: shortSpeaker(),
			input:   "Underutilized teams leverage tools.",
			want:    "Underutilized teams build on tools.",
		},
		{
			name:    "contractions",
			profile: shortSpeaker(),
			input:   "I will not go. It is late and I am tired.",
			want:    "I won't go. It's late and I'm tired.",
		},
		{
			name:    "long sentence split at middle comma",
			profile: shortSpeaker(),
			input:   "We shipped the new dashboard last week with a lot of help, and the customers seem to like the cleaner layout a lot.",
			want:    "We shipped the new dashboard last week with a lot of help. And the customers seem to like the cleaner layout a lot.",
		},
		{
			name:    "long sentence without comma kept",
			profile: shortSpeaker(),
			input:   "This sentence is long enough to exceed the limit but has no comma to split at all here.",
			want:    "This sentence is long enough to exceed the limit but has no comma to split at all here.",
		},
		{
			name:    "indented heading marker stays in its sentence",
			profile: plain,
			input:   "Total count:\n    # of items is 3",
			want:    "Total count: # of items is 3",
		},
		{
			name:    "indented dashes stay in their sentence",
			profile: plain,
			input:   "Options are:\n    - maybe\n    - never",
			want:    "Options are: - maybe - never",
		},
		{
			name:    "indented quote marker stays in its sentence",
			profile: plain,
			input:   "Quote from him\n    > be kind",
			want:    "Quote from him > be kind",
		},
		{
			name:    "indented fence stays literal",
			profile: plain,
			input:   "Run it like so\n    ```\nls -la",
			want:    "Run it like so ```\nls -la",
		},
		{
			name:    "thematic break only falls back to raw",
			profile: plain,
			input:   "---",
			want:    "---",
		},
		{
			name:    "empty",
			profile: plain,
			input:   "",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Humanize(tt.profile, tt.input))
		})
	}
}

// TestHumanizeIdempotent 测试拟人化变换的幂等性
func TestHumanizeIdempotent(t *testing.T) {
	p := shortSpeaker()
	inputs := []string{
		"Hello!",
		"**Absolutely**, we should utilize the new API, leverage the cache, and do not forget the tests, because I am sure it is going to matter a lot later on.",
		"First line here, with a comma, and another comma, and yet another clause that keeps going and going.\n\nSecond paragraph.",
		"- one\n- two, three, four, five, six, seven, eight, nine, ten, eleven, twelve, thirteen",
		"Mr. Smith said it is fine. Really?! Yes.",
		"   lots   of   space   ",
		"```\ncode block\n```",
		"```\n* a\n* b\n```",
		"Intro\n\n    # not a heading\n    * a",
		"Compute 2*3*4 and tell me.",
		"See [docs](http://example.com/x) **now**.",
		"**Steps**\n\n1. Open\n2. Close",
		"**Hi** use <div>x</div> here",
		"Use `` a`b `` and `*x*` here.",
		"> quoted **text**\n> over two lines\n\n````\n```\nnested\n```\n````",
		"Total count:\n    # of items is 3",
		"Options are:\n    - maybe\n    - never",
		"Quote from him\n    > be kind",
		"Run it like so\n    ```\nls -la",
		"**Note** the list:\n    - a\n    1. b",
	}

	for _, in := range inputs {
		once := Humanize(p, in)
		twice := Humanize(p, once)
		assert.Equal(t, once, twice, "input: %q", in)
	}

	plain := &Profile{ID: "plain"}
	_ = plain.Normalize(Generation{})
	for _, in := range inputs {
		once := Humanize(plain, in)
		assert.Equal(t, once, Humanize(plain, once), "input: %q", in)
	}
}

func TestSplitSentences(t *testing.T) {
	assert.Equal(t, []string{"One.", "Two?!", "Three"}, splitSentences("One. Two?! Three"))
	assert.Equal(t, []string{"v1.2 is out."}, splitSentences("v1.2 is out."))
	assert.Nil(t, splitSentences("   "))
}
