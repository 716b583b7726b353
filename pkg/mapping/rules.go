package mapping

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LoadRules reads an ordered list of rules from a JSON file holding an array
// of {"mqttTopic", "kafkaTopic", "kafkaKey"} objects.
func LoadRules(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping rules file %s: %w", path, err)
	}
	defer f.Close()

	rules, err := ParseRules(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping rules from %s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes a JSON array of rules, preserving their order.
func ParseRules(r io.Reader) ([]Rule, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var rules []Rule
	if err := dec.Decode(&rules); err != nil {
		return nil, fmt.Errorf("failed to decode mapping rules: %w", err)
	}
	for i, rule := range rules {
		if rule.MQTTTopic == "" {
			return nil, fmt.Errorf("mapping rule %d: mqttTopic is required", i)
		}
		if rule.KafkaTopic == "" {
			return nil, fmt.Errorf("mapping rule %d: kafkaTopic is required", i)
		}
	}
	return rules, nil
}
