package spec

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a required spec that is missing or malformed.
// It is the only error class that aborts a pipeline run.
type ConfigurationError struct {
	Slug   string
	Reason string
	Hint   string
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error: spec %q: %s", e.Slug, e.Reason)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// RuleEvaluationError reports a single rule or action that failed. It is recorded in a
// run's error list and never aborts the run.
type RuleEvaluationError struct {
	SpecSlug string
	Rule     string
	Err      error
}

func (e *RuleEvaluationError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("spec %s: %v", e.SpecSlug, e.Err)
	}
	return fmt.Sprintf("spec %s: rule %s: %v", e.SpecSlug, e.Rule, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}
