package mapping

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
	// singleLevelRegex matches one non-empty topic level.
	singleLevelRegex = "[^/]+"
)

var (
	// templatePlaceholder finds {name} tokens in Kafka topic and key templates.
	templatePlaceholder = regexp.MustCompile(`\{\w+\}`)
	// levelPlaceholder recognises a pattern level made of a single {name} token.
	levelPlaceholder = regexp.MustCompile(`^\{(\w+)\}$`)
)

// placeholder records the name of a {name} token and the topic level it binds.
type placeholder struct {
	name  string
	level int
}

type placeholderRule struct {
	rule         Rule
	matcher      *regexp.Regexp
	placeholders []placeholder
}

// PlaceholderMapper maps topics using MQTT style patterns: "+" matches one
// level, a trailing "#" matches any remaining levels and "{name}" binds one
// level to a placeholder that can be referenced from the Kafka templates.
type PlaceholderMapper struct {
	rules        []placeholderRule
	defaultTopic string
}

// NewPlaceholderMapper compiles rules in the order given. It fails with a
// *PatternCompilationError on the first invalid pattern.
func NewPlaceholderMapper(rules []Rule, defaultTopic string) (*PlaceholderMapper, error) {
	compiled := make([]placeholderRule, 0, len(rules))
	for _, rule := range rules {
		pr, err := compilePlaceholderRule(rule)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, pr)
	}
	return &PlaceholderMapper{
		rules:        compiled,
		defaultTopic: resolveDefaultTopic(defaultTopic),
	}, nil
}

// Map returns the result of the first rule matching the whole topic, or the
// default topic with a nil key when nothing matches.
func (m *PlaceholderMapper) Map(mqttTopic string) (Result, error) {
	for _, r := range m.rules {
		if r.matcher.MatchString(mqttTopic) {
			return r.resolve(mqttTopic)
		}
	}
	return defaultResult(m.defaultTopic), nil
}

func (r placeholderRule) resolve(mqttTopic string) (Result, error) {
	levels := strings.Split(mqttTopic, topicSeparator)
	values := make(map[string]string, len(r.placeholders))
	for _, p := range r.placeholders {
		values[p.name] = levels[p.level]
	}

	kafkaTopic, err := expandPlaceholders(mqttTopic, r.rule.KafkaTopic, values)
	if err != nil {
		return Result{}, err
	}
	if r.rule.KafkaKey == nil {
		return Result{KafkaTopic: kafkaTopic}, nil
	}
	kafkaKey, err := expandPlaceholders(mqttTopic, *r.rule.KafkaKey, values)
	if err != nil {
		return Result{}, err
	}
	return Result{KafkaTopic: kafkaTopic, KafkaKey: &kafkaKey}, nil
}

// expandPlaceholders substitutes every {name} in template. The first token
// with no bound value is reported as a *MappingError.
func expandPlaceholders(mqttTopic, template string, values map[string]string) (string, error) {
	var missing string
	out := templatePlaceholder.ReplaceAllStringFunc(template, func(token string) string {
		if v, ok := values[token[1:len(token)-1]]; ok {
			return v
		}
		if missing == "" {
			missing = token
		}
		return token
	})
	if missing != "" {
		return "", &MappingError{Topic: mqttTopic, Token: missing}
	}
	return out, nil
}

func compilePlaceholderRule(rule Rule) (placeholderRule, error) {
	pattern := rule.MQTTTopic
	if pattern == "" {
		return placeholderRule{}, &PatternCompilationError{Pattern: pattern, Reason: "pattern is empty"}
	}

	levels := strings.Split(pattern, topicSeparator)
	seen := make(map[string]struct{})
	var placeholders []placeholder
	var expr strings.Builder
	expr.WriteString("^")

	for i, level := range levels {
		if level == multiLevelWildcard {
			if i != len(levels)-1 {
				return placeholderRule{}, &PatternCompilationError{Pattern: pattern, Reason: "multi-level wildcard must be the last level"}
			}
			if i == 0 {
				expr.WriteString(".*")
			} else {
				expr.WriteString("(?:/.*)?")
			}
			break
		}

		if i > 0 {
			expr.WriteString(topicSeparator)
		}
		switch {
		case level == singleLevelWildcard:
			expr.WriteString(singleLevelRegex)
		case levelPlaceholder.MatchString(level):
			name := levelPlaceholder.FindStringSubmatch(level)[1]
			if _, dup := seen[name]; dup {
				return placeholderRule{}, &PatternCompilationError{Pattern: pattern, Reason: fmt.Sprintf("placeholder {%s} is declared more than once", name)}
			}
			seen[name] = struct{}{}
			placeholders = append(placeholders, placeholder{name: name, level: i})
			expr.WriteString(singleLevelRegex)
		case strings.ContainsAny(level, "+#{}"):
			return placeholderRule{}, &PatternCompilationError{Pattern: pattern, Reason: fmt.Sprintf("level %q mixes wildcards or placeholders with literal text", level)}
		default:
			expr.WriteString(regexp.QuoteMeta(level))
		}
	}
	expr.WriteString("$")

	matcher, err := regexp.Compile(expr.String())
	if err != nil {
		return placeholderRule{}, &PatternCompilationError{Pattern: pattern, Reason: "cannot build matcher", Err: err}
	}
	return placeholderRule{rule: rule, matcher: matcher, placeholders: placeholders}, nil
}
