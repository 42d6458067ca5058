package analysis

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// TaskType tags returned by the analyzer. Unknown and manual are reserved
// for the default and rejection verdicts.
const (
	TypeResearch      = "research"
	TypeInfoGathering = "information_gathering"
	TypeWebSearch     = "web_search"
	TypeVoiceCall     = "voice_call"
	TypePhoneBooking  = "phone_booking"
	TypeBooking       = "booking"
	TypeAutomation    = "automation"
	TypeManual        = "manual"
	TypeUnknown       = "unknown"
)

// RuleSet is the declarative pattern model behind the analyzer. Group order
// is significant: the first-declared group wins confidence ties, so rule
// packs are lists, not maps.
type RuleSet struct {
	// Reject patterns are checked first and short-circuit all groups.
	Reject []string `yaml:"reject"`
	Groups []Group  `yaml:"groups"`
}

// Group is an ordered list of patterns for one task type.
type Group struct {
	Type     string   `yaml:"type"`
	Patterns []string `yaml:"patterns"`
}

// compiledRules is a RuleSet with every pattern compiled. The pattern source
// is retained because match confidence is a function of its length.
type compiledRules struct {
	reject []compiledPattern
	groups []compiledGroup
}

type compiledGroup struct {
	taskType string
	patterns []compiledPattern
}

type compiledPattern struct {
	source string
	re     *regexp.Regexp
}

func (rs *RuleSet) compile() (*compiledRules, error) {
	cr := &compiledRules{}
	for _, p := range rs.Reject {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile reject pattern %q: %w", p, err)
		}
		cr.reject = append(cr.reject, compiledPattern{source: p, re: re})
	}
	for _, g := range rs.Groups {
		if g.Type == "" {
			return nil, fmt.Errorf("rule group with empty type")
		}
		cg := compiledGroup{taskType: g.Type}
		for _, p := range g.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile %s pattern %q: %w", g.Type, p, err)
			}
			cg.patterns = append(cg.patterns, compiledPattern{source: p, re: re})
		}
		cr.groups = append(cr.groups, cg)
	}
	return cr, nil
}

// LoadRules reads a YAML rule pack from disk.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if len(rs.Groups) == 0 {
		return nil, fmt.Errorf("rules %s: no pattern groups declared", path)
	}
	return &rs, nil
}

// DefaultRules returns the built-in pattern pack. Voice groups are declared
// ahead of booking so an explicit phone request outbids the generic booking
// vocabulary on equal confidence.
func DefaultRules() *RuleSet {
	return &RuleSet{
		Reject: []string{
			`\b(buy|purchase|pay)\b.*\b(grocery|groceries|milk|bread)\b`,
			`\b(call|text|message)\b.*\b(mom|dad|friend|family)\b`,
			`\b(remember|remind me)\b`,
			`\b(pick up|drop off)\b`,
		},
		Groups: []Group{
			{
				Type: TypeResearch,
				Patterns: []string{
					`\b(research|find|look up|investigate|discover)\b`,
					`\b(what is|how to|why does|when did|where can)\b`,
					`\b(compare|analyze|evaluate|study)\b`,
					`\b(best practices|pros and cons|advantages|trends)\b`,
					`\b(latest|recent|current|new)\b.*\b(developments?|breakthroughs?|advances?)\b`,
					`\b(find|get|gather)\b.*\b(information|data|details)\b`,
				},
			},
			{
				Type: TypeInfoGathering,
				Patterns: []string{
					`\b(weather|temperature|forecast)\b`,
					`\b(news|latest|current events)\b`,
					`\b(stock price|market|financial)\b`,
					`\b(time|date|schedule)\b`,
					`\b(recent|latest|current)\b.*\b(updates?|news|info)\b`,
				},
			},
			{
				Type: TypeWebSearch,
				Patterns: []string{
					`\b(search for|google|find online)\b`,
					`\b(website|url|link)\b`,
					`\b(reviews|ratings|feedback)\b`,
				},
			},
			{
				Type: TypeVoiceCall,
				Patterns: []string{
					`\b(call|phone|dial)\b.*\b(restaurant|hotel|business|office|clinic)\b`,
					`\b(call|phone|contact)\b.*\b(customer|client|support|service)\b`,
					`\b(make|place|give)\b.*\b(call|phone call)\b`,
				},
			},
			{
				Type: TypePhoneBooking,
				Patterns: []string{
					`\b(call|phone)\b.*\b(book|reserve|reservation)\b`,
					`\b(call|phone)\b.*\b(table|room|appointment)\b`,
				},
			},
			{
				Type: TypeBooking,
				Patterns: []string{
					`\b(book|reserve|schedule)\b`,
					`\b(appointment|meeting|call)\b`,
					`\b(restaurant|hotel|flight)\b`,
				},
			},
			{
				Type: TypeAutomation,
				Patterns: []string{
					`\b(send email|create document)\b`,
					`\b(fill form|submit application)\b`,
					`\b(download|upload|backup)\b`,
				},
			},
		},
	}
}
