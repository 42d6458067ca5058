package orchestration

import (
	"context"
	"regexp"
	"strings"
)

// Task is the input to an agent's fitness check: the request text only.
type Task struct {
	Request string
}

// Agent is a capability handler exposed through the message protocol.
// Implementations hold static configuration only; per-task data travels
// through Messages and State. HandleMessage never fails out-of-band; any
// agent-local failure comes back as an error Message.
type Agent interface {
	ID() string
	Capabilities() []string
	CanHandle(task Task) float64
	HandleMessage(ctx context.Context, msg Message, state *State) Message
}

// Tier confidence levels shared by all agents' fitness heuristics.
const (
	HighConfidence   = 0.9
	MediumConfidence = 0.7
)

// TierMatcher scores request text against ordered high- and
// medium-confidence pattern lists, with a per-agent fallback score. Each
// agent keeps its own domain vocabulary; only the scoring mechanics are
// shared.
type TierMatcher struct {
	high     []*regexp.Regexp
	medium   []*regexp.Regexp
	fallback float64
}

// NewTierMatcher compiles the pattern lists. Patterns are trusted,
// compile errors panic at construction time.
func NewTierMatcher(high, medium []string, fallback float64) *TierMatcher {
	m := &TierMatcher{fallback: fallback}
	for _, p := range high {
		m.high = append(m.high, regexp.MustCompile(p))
	}
	for _, p := range medium {
		m.medium = append(m.medium, regexp.MustCompile(p))
	}
	return m
}

// Score returns the confidence tier for the given request text.
func (m *TierMatcher) Score(request string) float64 {
	lowered := strings.ToLower(request)
	for _, re := range m.high {
		if re.MatchString(lowered) {
			return HighConfidence
		}
	}
	for _, re := range m.medium {
		if re.MatchString(lowered) {
			return MediumConfidence
		}
	}
	return m.fallback
}
