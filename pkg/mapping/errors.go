package mapping

import "fmt"

// PatternCompilationError reports a rule whose pattern cannot be compiled.
// It is raised by mapper constructors, before any topic is mapped.
type PatternCompilationError struct {
	Pattern string
	Reason  string
	Err     error
}

func (e *PatternCompilationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid mapping pattern %q: %s: %v", e.Pattern, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid mapping pattern %q: %s", e.Pattern, e.Reason)
}

func (e *PatternCompilationError) Unwrap() error {
	return e.Err
}

// MappingError reports a template reference that could not be resolved
// against the tokens of the matched rule.
type MappingError struct {
	Topic string
	// Token is the unresolved reference exactly as written, e.g. "{room}" or "$2".
	Token string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping topic %q: the placeholder %s was not found or assigned any value", e.Topic, e.Token)
}
