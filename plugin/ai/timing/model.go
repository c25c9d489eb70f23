// Package timing models how long a persona takes to read, think and type a reply.
// Package timing 模拟角色阅读、思考与打字所需的时间。
package timing

import (
	"math"
	"math/rand/v2"
	"time"
	"unicode/utf8"

	"github.com/hrygo/pandemonium/plugin/ai/persona"
)

// Config holds the timing constants. All durations are wall-clock.
type Config struct {
	Base           time.Duration // fixed reaction time and unit of thinking time (default: 1s)
	ReadingPerChar time.Duration // per rune of the user message (default: 20ms)
	TypingPerChar  time.Duration // per rune of the reply (default: 35ms)
	SlowFactor     float64       // thinking multiplier for slow personas (default: 1.5)
	FastFactor     float64       // thinking multiplier for fast personas (default: 0.5)
	Jitter         float64       // uniform jitter fraction J, factor in [1-J, 1+J] (default: 0.2)
	Min            time.Duration // lower bound of the total delay (default: 500ms)
	Max            time.Duration // upper bound of the total delay (default: 8s)
	Checkpoints    int           // progress ticks per delay (default: 5)
}

// DefaultConfig returns the default timing configuration.
func DefaultConfig() Config {
	return Config{
		Base:           time.Second,
		ReadingPerChar: 20 * time.Millisecond,
		TypingPerChar:  35 * time.Millisecond,
		SlowFactor:     1.5,
		FastFactor:     0.5,
		Jitter:         0.2,
		Min:            500 * time.Millisecond,
		Max:            8 * time.Second,
		Checkpoints:    5,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Base <= 0 {
		c.Base = def.Base
	}
	if c.ReadingPerChar <= 0 {
		c.ReadingPerChar = def.ReadingPerChar
	}
	if c.TypingPerChar <= 0 {
		c.TypingPerChar = def.TypingPerChar
	}
	if c.SlowFactor <= 0 {
		c.SlowFactor = def.SlowFactor
	}
	if c.FastFactor <= 0 {
		c.FastFactor = def.FastFactor
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = def.Jitter
	}
	if c.Min <= 0 {
		c.Min = def.Min
	}
	if c.Max < c.Min {
		c.Max = def.Max
		if c.Max < c.Min {
			c.Max = c.Min
		}
	}
	if c.Checkpoints <= 0 {
		c.Checkpoints = def.Checkpoints
	}
}

// Result is the computed typing delay.
type Result struct {
	Total       time.Duration
	Checkpoints int
}

// Step is the wait between two consecutive checkpoints.
func (r Result) Step() time.Duration {
	if r.Checkpoints <= 0 {
		return r.Total
	}
	return r.Total / time.Duration(r.Checkpoints)
}

// Model computes humanized delays. It is safe for concurrent use.
type Model struct {
	cfg   Config
	float func() float64
}

// NewModel creates a timing model. rnd returns values in [0, 1); nil uses math/rand/v2.
func NewModel(cfg Config, rnd func() float64) *Model {
	cfg.applyDefaults()
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Model{cfg: cfg, float: rnd}
}

// Config returns the effective configuration.
func (m *Model) Config() Config {
	return m.cfg
}

// MaxDelay is the largest delay the model can produce.
func (m *Model) MaxDelay() time.Duration {
	return m.cfg.Max
}

// Delay computes the typing delay of a reply:
// clamp((base + reading + thinking + typing) * jitter, min, max).
func (m *Model) Delay(p *persona.Profile, userText, replyText string) Result {
	c := m.cfg

	reading := time.Duration(utf8.RuneCountInString(userText)) * c.ReadingPerChar
	typing := time.Duration(utf8.RuneCountInString(replyText)) * c.TypingPerChar
	raw := c.Base + reading + m.thinking(p) + typing

	factor := 1 - c.Jitter + 2*c.Jitter*m.float()
	total := time.Duration(math.Round(float64(raw) * factor))

	return Result{Total: clamp(total, c.Min, c.Max), Checkpoints: c.Checkpoints}
}

func (m *Model) thinking(p *persona.Profile) time.Duration {
	var speed persona.Speed
	if p != nil {
		speed = p.Cognitive.ComprehensionSpeed
	}
	switch speed {
	case persona.SpeedSlow:
		return time.Duration(float64(m.cfg.Base) * m.cfg.SlowFactor)
	case persona.SpeedFast:
		return time.Duration(float64(m.cfg.Base) * m.cfg.FastFactor)
	default:
		return m.cfg.Base
	}
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
