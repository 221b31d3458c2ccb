// Package deps checks that the specs about to run have their declared prerequisites
// in the active rule set.
package deps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/paw2paw/hf-pipeline/internal/logging"
	"github.com/paw2paw/hf-pipeline/internal/spec"
)

// #region types
// ActiveLister lists the active rule set.
type ActiveLister interface {
	ListActive(ctx context.Context) ([]spec.ActiveSpec, error)
}

// SkippedSpec is a spec with at least one unresolved dependency.
type SkippedSpec struct {
	SpecSlug    string   `json:"specSlug"`
	MissingDeps []string `json:"missingDeps"`
}

// Report is the outcome of one validation pass.
type Report struct {
	Valid    bool          `json:"valid"`
	Warnings []string      `json:"warnings,omitempty"`
	Skipped  []SkippedSpec `json:"skipped,omitempty"`
}

// IsSkipped reports whether slug has missing dependencies.
func (r Report) IsSkipped(slug string) bool {
	for _, s := range r.Skipped {
		if s.SpecSlug == slug {
			return true
		}
	}
	return false
}

// MissingFor returns the missing dependencies recorded for slug.
func (r Report) MissingFor(slug string) []string {
	for _, s := range r.Skipped {
		if s.SpecSlug == slug {
			return s.MissingDeps
		}
	}
	return nil
}

// #endregion types

// #region validator
// Validator resolves dependsOn declarations against the active rule set.
type Validator struct {
	specs  ActiveLister
	logger *slog.Logger
}

// NewValidator creates a validator over the given rule set.
func NewValidator(specs ActiveLister, logger *slog.Logger) *Validator {
	return &Validator{specs: specs, logger: logging.OrDefault(logger).With("component", "deps")}
}

// Validate checks every slug's dependencies. It never decides to skip anything
// itself; callers consult Report.Skipped. An error is returned only when the
// active rule set cannot be read.
func (v *Validator) Validate(ctx context.Context, slugs []string) (Report, error) {
	active, err := v.specs.ListActive(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("validate dependencies: %w", err)
	}

	known := make(map[string]struct{}, len(active)*2)
	bySlug := make(map[string]spec.ActiveSpec, len(active))
	for _, s := range active {
		known[strings.ToUpper(s.Slug)] = struct{}{}
		known[Normalize(s.Slug)] = struct{}{}
		bySlug[s.Slug] = s
	}

	report := Report{Valid: true}
	for _, slug := range slugs {
		s, ok := bySlug[slug]
		if !ok {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("spec %s is not in the active set, dependencies not checked", slug))
			continue
		}

		var missing []string
		seen := make(map[string]struct{})
		for _, dep := range s.DependsOn {
			key := strings.ToUpper(dep)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if resolves(known, dep) {
				continue
			}
			missing = append(missing, dep)
		}
		if len(missing) == 0 {
			continue
		}

		report.Valid = false
		report.Skipped = append(report.Skipped, SkippedSpec{SpecSlug: slug, MissingDeps: missing})
		w := fmt.Sprintf("spec %s depends on inactive or unknown specs: %s", slug, strings.Join(missing, ", "))
		report.Warnings = append(report.Warnings, w)
		v.logger.Warn("unresolved dependencies", "spec", slug, "missing", missing)
	}
	return report, nil
}

// #endregion validator

// #region normalize
// Normalize strips the conventional "spec-" prefix and uppercases the identifier.
func Normalize(id string) string {
	id = strings.TrimSpace(id)
	if len(id) >= 5 && strings.EqualFold(id[:5], "spec-") {
		id = id[5:]
	}
	return strings.ToUpper(id)
}

func resolves(known map[string]struct{}, dep string) bool {
	if _, ok := known[strings.ToUpper(strings.TrimSpace(dep))]; ok {
		return true
	}
	_, ok := known[Normalize(dep)]
	return ok
}

// #endregion normalize
