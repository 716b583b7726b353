package mapping

import "fmt"

// Strategy selects how rule patterns are interpreted.
type Strategy string

const (
	// StrategyPlaceholder interprets patterns as MQTT filters with {name} placeholders.
	StrategyPlaceholder Strategy = "placeholder"
	// StrategyRegex interprets patterns as regular expressions with $n references.
	StrategyRegex Strategy = "regex"
)

// New builds the Mapper for the given strategy. An empty strategy selects
// StrategyPlaceholder.
func New(strategy Strategy, rules []Rule, defaultTopic string) (Mapper, error) {
	switch strategy {
	case "", StrategyPlaceholder:
		return NewPlaceholderMapper(rules, defaultTopic)
	case StrategyRegex:
		return NewRegexMapper(rules, defaultTopic)
	default:
		return nil, fmt.Errorf("unknown mapping strategy %q", strategy)
	}
}
