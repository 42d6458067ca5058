package analysis

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/metrics"
)

// Confidence constants. The accept floor and the fixed rejection/default
// confidences are part of the external contract; downstream thresholds
// depend on them.
const (
	baseConfidence    = 0.70
	specificityBoost  = 0.15 // pattern source longer than 20 chars
	detailBoost       = 0.10 // input text longer than 50 chars
	maxConfidence     = 0.95
	acceptFloor       = 0.60
	rejectConfidence  = 0.90
	defaultConfidence = 0.30

	longPatternLen = 20
	longTextLen    = 50
)

// Verdict is the analyzer's output for one piece of task text.
type Verdict struct {
	Suitable   bool    `json:"suitable"`
	Confidence float64 `json:"confidence"`
	TaskType   string  `json:"task_type"`
	Reasoning  string  `json:"reasoning"`
}

// Analyzer decides whether free-text tasks should be handed to automation
// and which capability they need. It is a transparent rule engine: every
// verdict cites the pattern that produced it, and operators can swap the
// rule pack at runtime without touching code.
type Analyzer struct {
	mu     sync.RWMutex
	rules  *compiledRules
	logger *zap.Logger
}

// NewAnalyzer builds an analyzer over the given rule set. A nil rules
// argument selects the built-in pack.
func NewAnalyzer(rules *RuleSet, logger *zap.Logger) (*Analyzer, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	compiled, err := rules.compile()
	if err != nil {
		return nil, err
	}
	return &Analyzer{rules: compiled, logger: logger}, nil
}

// SetRules swaps in a new rule pack atomically. In-flight Classify calls
// finish against the pack they started with.
func (a *Analyzer) SetRules(rules *RuleSet) error {
	compiled, err := rules.compile()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.rules = compiled
	a.mu.Unlock()
	a.logger.Info("Analyzer rules replaced",
		zap.Int("reject_patterns", len(compiled.reject)),
		zap.Int("groups", len(compiled.groups)),
	)
	return nil
}

// Classify maps task text to a verdict. It is total and deterministic:
// rejection patterns short-circuit everything, otherwise the best-scoring
// acceptance match wins with ties broken by declaration order, and anything
// below the accept floor falls back to the unknown default.
func (a *Analyzer) Classify(text string) Verdict {
	a.mu.RLock()
	rules := a.rules
	a.mu.RUnlock()

	lowered := strings.ToLower(text)

	for _, p := range rules.reject {
		if p.re.MatchString(lowered) {
			v := Verdict{
				Suitable:   false,
				Confidence: rejectConfidence,
				TaskType:   TypeManual,
				Reasoning:  fmt.Sprintf("Contains pattern indicating manual task: %s", p.source),
			}
			a.observe(v)
			return v
		}
	}

	var best Verdict
	bestConfidence := 0.0
	for _, g := range rules.groups {
		for _, p := range g.patterns {
			if !p.re.MatchString(lowered) {
				continue
			}
			confidence := matchConfidence(p.source, lowered)
			if confidence > bestConfidence {
				bestConfidence = confidence
				best = Verdict{
					Suitable:   true,
					Confidence: confidence,
					TaskType:   g.taskType,
					Reasoning:  fmt.Sprintf("Matches %s pattern: %s", g.taskType, p.source),
				}
			}
		}
	}

	if bestConfidence > acceptFloor {
		a.observe(best)
		return best
	}

	v := Verdict{
		Suitable:   false,
		Confidence: defaultConfidence,
		TaskType:   TypeUnknown,
		Reasoning:  "No clear automation-suitable patterns detected",
	}
	a.observe(v)
	return v
}

// ClassifyItem combines an item's title and optional description the same
// way the trigger surface does before analysis.
func (a *Analyzer) ClassifyItem(title, description string) Verdict {
	text := title
	if description != "" {
		text = title + " " + description
	}
	return a.Classify(text)
}

func (a *Analyzer) observe(v Verdict) {
	metrics.AnalysesTotal.WithLabelValues(v.TaskType, strconv.FormatBool(v.Suitable)).Inc()
	metrics.AnalysisConfidence.Observe(v.Confidence)
}

// matchConfidence scores a single pattern match. Longer pattern source text
// stands in for specificity; longer input text for detail.
func matchConfidence(patternSource, text string) float64 {
	confidence := baseConfidence
	if len(patternSource) > longPatternLen {
		confidence += specificityBoost
	}
	if len(text) > longTextLen {
		confidence += detailBoost
	}
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	return confidence
}

// SuggestedAgents maps a task type to the capability agents that should
// participate in its orchestration. Unrecognized types fall back to search.
func (a *Analyzer) SuggestedAgents(taskType string) []string {
	switch taskType {
	case TypeResearch, TypeInfoGathering, TypeWebSearch:
		return []string{"search_agent"}
	case TypeBooking:
		return []string{"browser_agent", "search_agent"}
	case TypeAutomation:
		return []string{"browser_agent"}
	case TypeVoiceCall, TypePhoneBooking:
		return []string{"voice_agent"}
	default:
		return []string{"search_agent"}
	}
}

// FormatRequest builds the instruction string handed to capability agents.
func (a *Analyzer) FormatRequest(title, description, taskType string) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(title)
	if description != "" {
		b.WriteString("\nDescription: ")
		b.WriteString(description)
	}

	switch taskType {
	case TypeResearch:
		b.WriteString("\nPlease research this topic and provide comprehensive information with sources.")
	case TypeInfoGathering:
		b.WriteString("\nPlease find the latest information about this topic.")
	case TypeBooking:
		b.WriteString("\nPlease help with booking or scheduling this request.")
	case TypeVoiceCall, TypePhoneBooking:
		b.WriteString("\nPlease place the phone call described above and report the outcome.")
	default:
		b.WriteString(fmt.Sprintf("\nPlease process this %s request.", taskType))
	}
	return b.String()
}
