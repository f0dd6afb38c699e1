package responder

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one keyword predicate of the local matcher. A rule matches when the
// lowercased input contains at least one of Any (if set) and every entry of
// All (if set).
type Rule struct {
	Name  string   `yaml:"name"`
	Any   []string `yaml:"any"`
	All   []string `yaml:"all"`
	Reply string   `yaml:"reply"`
}

func (r Rule) matches(lower string) bool {
	if len(r.Any) == 0 && len(r.All) == 0 {
		return false
	}
	for _, kw := range r.All {
		if !strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	if len(r.Any) == 0 {
		return true
	}
	for _, kw := range r.Any {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// RuleMatcher answers from an ordered keyword table. Earlier rules win on
// overlapping matches; unmatched input gets an echo of the question.
type RuleMatcher struct {
	rules []Rule
}

func NewRuleMatcher(rules []Rule) *RuleMatcher {
	kept := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Reply) == "" {
			continue
		}
		kept = append(kept, r)
	}
	return &RuleMatcher{rules: kept}
}

func (m *RuleMatcher) Respond(text string) Result {
	lower := strings.ToLower(text)
	for _, r := range m.rules {
		if r.matches(lower) {
			return Result{Text: r.Reply, Source: SourceLocalFallback}
		}
	}
	return Result{Text: EchoReply(text), Source: SourceLocalFallback}
}

// EchoReply is the generic acknowledgement used when no rule matches.
func EchoReply(question string) string {
	return fmt.Sprintf("That's an interesting question about \"%s\"! I'd love to help you understand this better. "+
		"Could you tell me more about what specific aspect you'd like to learn, or would you like me to give you a general overview?", question)
}

// DefaultRules is the mentor's built-in keyword table. Rules are evaluated in
// order; earlier rules win.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:  "greeting",
			Any:   []string{"hello", "hi", "hey"},
			Reply: "Hello! I'm MentorAI, your personal training mentor. I'm here to help you learn about any topic you're curious about. What would you like to explore today?",
		},
		{
			Name:  "wellbeing",
			Any:   []string{"how are you", "how do you do"},
			Reply: "I'm doing great, thank you for asking! I'm excited to help you learn something new today. What subject interests you?",
		},
		{
			Name:  "thanks",
			Any:   []string{"thank you", "thanks"},
			Reply: "You're very welcome! I'm always happy to help you learn. Is there anything else you'd like to know about?",
		},
		{
			Name:  "farewell",
			Any:   []string{"goodbye", "bye"},
			Reply: "Goodbye! It was great helping you learn today. Feel free to come back anytime you have more questions!",
		},
		{
			Name:  "name",
			All:   []string{"what", "your name"},
			Reply: "I'm MentorAI! I'm your personal AI training mentor, designed to help you learn and understand various topics. What would you like to learn about?",
		},
		{
			Name:  "quantum",
			Any:   []string{"quantum"},
			Reply: "Quantum physics is fascinating! It's the study of matter and energy at the smallest scales, where particles behave in ways that seem impossible in our everyday world. Would you like to explore quantum entanglement or wave-particle duality?",
		},
		{
			Name:  "calculus",
			Any:   []string{"calculus"},
			Reply: "Calculus is the mathematical study of change and motion! It has two main branches: differential calculus (rates of change) and integral calculus (accumulation). What aspect would you like to dive into?",
		},
		{
			Name:  "help",
			Any:   []string{"help", "what can you do"},
			Reply: "I can help you learn about virtually any topic! Just ask me questions about science, math, history, programming, or anything else you're curious about. What interests you most?",
		},
	}
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulesFile reads an ordered rule table from YAML:
//
//	rules:
//	  - name: greeting
//	    any: [hello, hi]
//	    reply: Hello!
func LoadRulesFile(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var parsed rulesFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	for i, r := range parsed.Rules {
		if strings.TrimSpace(r.Reply) == "" {
			return nil, fmt.Errorf("rule %d (%s): reply is required", i, r.Name)
		}
		if len(r.Any) == 0 && len(r.All) == 0 {
			return nil, fmt.Errorf("rule %d (%s): needs at least one keyword", i, r.Name)
		}
	}
	if len(parsed.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s has no rules", path)
	}
	return parsed.Rules, nil
}
