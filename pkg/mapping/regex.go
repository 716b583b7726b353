package mapping

import (
	"regexp"
	"regexp/syntax"
	"strings"
)

type regexRule struct {
	rule    Rule
	matcher *regexp.Regexp
	groups  int
}

// RegexMapper maps topics using regular expression patterns. Kafka templates
// reference capture groups positionally as $1, $2 ... $99.
type RegexMapper struct {
	rules        []regexRule
	defaultTopic string
}

// NewRegexMapper compiles rules in the order given. Patterns are matched
// against the whole topic. A pattern that does not compile, or that captures
// a multi-level wildcard such as (.*), fails with a *PatternCompilationError.
func NewRegexMapper(rules []Rule, defaultTopic string) (*RegexMapper, error) {
	compiled := make([]regexRule, 0, len(rules))
	for _, rule := range rules {
		rr, err := compileRegexRule(rule)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, rr)
	}
	return &RegexMapper{
		rules:        compiled,
		defaultTopic: resolveDefaultTopic(defaultTopic),
	}, nil
}

// Map returns the result of the first rule matching the whole topic, or the
// default topic with a nil key when nothing matches.
func (m *RegexMapper) Map(mqttTopic string) (Result, error) {
	for _, r := range m.rules {
		loc := r.matcher.FindStringSubmatchIndex(mqttTopic)
		if loc == nil {
			continue
		}
		kafkaTopic, err := r.expand(mqttTopic, r.rule.KafkaTopic, loc)
		if err != nil {
			return Result{}, err
		}
		if r.rule.KafkaKey == nil {
			return Result{KafkaTopic: kafkaTopic}, nil
		}
		kafkaKey, err := r.expand(mqttTopic, *r.rule.KafkaKey, loc)
		if err != nil {
			return Result{}, err
		}
		return Result{KafkaTopic: kafkaTopic, KafkaKey: &kafkaKey}, nil
	}
	return defaultResult(m.defaultTopic), nil
}

// expand replaces each $n in template with the text of capture group n.
// A two digit reference is only taken when that group exists; otherwise the
// first digit names the group and the second one stays literal.
func (r regexRule) expand(mqttTopic, template string, loc []int) (string, error) {
	var out strings.Builder
	for i := 0; i < len(template); {
		if template[i] != '$' || i+1 >= len(template) || !isDigit(template[i+1]) {
			out.WriteByte(template[i])
			i++
			continue
		}

		group, width := int(template[i+1]-'0'), 1
		token := template[i : i+2]
		if i+2 < len(template) && isDigit(template[i+2]) {
			token = template[i : i+3]
			if wide := group*10 + int(template[i+2]-'0'); group != 0 && wide <= r.groups {
				group, width = wide, 2
			}
		}

		if group < 1 || group > r.groups || loc[2*group] < 0 {
			return "", &MappingError{Topic: mqttTopic, Token: token}
		}
		out.WriteString(mqttTopic[loc[2*group]:loc[2*group+1]])
		i += 1 + width
	}
	return out.String(), nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func compileRegexRule(rule Rule) (regexRule, error) {
	pattern := rule.MQTTTopic
	if pattern == "" {
		return regexRule{}, &PatternCompilationError{Pattern: pattern, Reason: "pattern is empty"}
	}

	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return regexRule{}, &PatternCompilationError{Pattern: pattern, Reason: "invalid regular expression", Err: err}
	}
	if capturesMultiLevel(parsed, false) {
		return regexRule{}, &PatternCompilationError{Pattern: pattern, Reason: "a capture group cannot contain a multi-level wildcard"}
	}

	matcher, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return regexRule{}, &PatternCompilationError{Pattern: pattern, Reason: "invalid regular expression", Err: err}
	}
	return regexRule{rule: rule, matcher: matcher, groups: matcher.NumSubexp()}, nil
}

// capturesMultiLevel reports whether a capture group contains an unbounded
// repetition of something that can cross a topic level separator.
func capturesMultiLevel(re *syntax.Regexp, inCapture bool) bool {
	switch re.Op {
	case syntax.OpCapture:
		inCapture = true
	case syntax.OpStar, syntax.OpPlus:
		if inCapture && crossesLevels(re.Sub[0]) {
			return true
		}
	case syntax.OpRepeat:
		if inCapture && re.Max == -1 && crossesLevels(re.Sub[0]) {
			return true
		}
	}
	for _, sub := range re.Sub {
		if capturesMultiLevel(sub, inCapture) {
			return true
		}
	}
	return false
}

// crossesLevels reports whether re can match text containing a topic level
// separator.
func crossesLevels(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return true
	case syntax.OpLiteral:
		for _, r := range re.Rune {
			if r == '/' {
				return true
			}
		}
		return false
	case syntax.OpCharClass:
		for i := 0; i+1 < len(re.Rune); i += 2 {
			if re.Rune[i] <= '/' && '/' <= re.Rune[i+1] {
				return true
			}
		}
		return false
	case syntax.OpConcat, syntax.OpAlternate, syntax.OpCapture,
		syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		for _, sub := range re.Sub {
			if crossesLevels(sub) {
				return true
			}
		}
	}
	return false
}
