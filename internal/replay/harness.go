package replay

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/paw2paw/hf-pipeline/internal/orchestrator"
	"github.com/paw2paw/hf-pipeline/internal/spec"
	"github.com/paw2paw/hf-pipeline/internal/stages"
	"github.com/paw2paw/hf-pipeline/internal/store"
)

// #region result-types

// RunResult is the outcome of one fixture run.
type RunResult struct {
	Index     int
	CallerID  string
	Summary   *orchestrator.RunSummary // nil when the run aborted
	ConfigErr error
}

// Report is the outcome of a whole fixture replay.
type Report struct {
	Description string
	Runs        []RunResult
	Mismatches  []string
}

// Passed reports whether every expectation held.
func (r *Report) Passed() bool {
	return len(r.Mismatches) == 0
}

// ReplaySummary aggregates a report into counts.
type ReplaySummary struct {
	TotalRuns      int
	Aborted        int
	SpecsRun       int
	ProfileUpdates int
	TargetsCreated int
	TargetsUpdated int
	Skipped        int
	Errors         int
	Mismatches     int
}

// #endregion result-types

// #region options

// Options control a replay.
type Options struct {
	DBPath      string // "" replays against a fresh in-memory database
	SpecTimeout time.Duration
	Logger      *slog.Logger
}

// valueTolerance absorbs float formatting noise when comparing targets.
const valueTolerance = 1e-9

// #endregion options

// #region replay

// Replay seeds a fresh store with the fixture, performs every run in order and
// checks the expectations against the resulting state.
func Replay(ctx context.Context, f *Fixture, opts Options) (*Report, error) {
	path := opts.DBPath
	if path == "" {
		path = ":memory:"
	}
	st, err := store.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("open replay store: %w", err)
	}
	defer st.Close()

	if err := Seed(ctx, st, f); err != nil {
		return nil, err
	}

	mode, err := stages.ParseMode(f.StageMode)
	if err != nil {
		return nil, err
	}
	stack, err := orchestrator.NewStack(st, orchestrator.StackOptions{
		StageSpec:   f.StageSpec,
		StageMode:   mode,
		SpecTimeout: opts.SpecTimeout,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire pipeline: %w", err)
	}

	rep := &Report{Description: f.Description}
	last := make(map[string]RunResult)
	for i, run := range f.Runs {
		ots := make([]spec.OutputType, len(run.OutputTypes))
		for j, ot := range run.OutputTypes {
			ots[j] = spec.OutputType(strings.ToUpper(ot))
		}
		res := RunResult{Index: i, CallerID: run.Caller}
		sum, err := stack.Orchestrator.Run(ctx, run.Caller, ots...)
		switch {
		case err != nil && spec.IsConfigurationError(err):
			res.ConfigErr = err
		case err != nil:
			return nil, fmt.Errorf("run %d: %w", i, err)
		default:
			res.Summary = sum
		}
		rep.Runs = append(rep.Runs, res)
		last[run.Caller] = res
	}

	for _, exp := range f.Expected {
		rep.Mismatches = append(rep.Mismatches, check(ctx, st, exp, last[exp.Caller])...)
	}
	return rep, nil
}

// #endregion replay

// #region seed

// Seed writes the fixture's specs, parameters and history into st.
func Seed(ctx context.Context, st *store.Store, f *Fixture) error {
	for _, fs := range f.Specs {
		rec, err := fs.record()
		if err != nil {
			return err
		}
		if err := st.PutSpec(ctx, rec); err != nil {
			return fmt.Errorf("seed spec %s: %w", fs.Slug, err)
		}
	}
	for _, p := range f.Parameters {
		err := st.PutParameter(ctx, store.Parameter{
			ID: p.ID, Kind: p.Kind, IsAdjustable: p.Adjustable, HighLabel: p.HighLabel, LowLabel: p.LowLabel,
		})
		if err != nil {
			return fmt.Errorf("seed parameter %s: %w", p.ID, err)
		}
	}
	for _, a := range f.Attributes {
		scope := a.Scope
		if scope == "" {
			scope = store.ScopeLearnerProfile
		}
		if err := st.UpsertAttribute(ctx, a.Caller, a.Key, a.Value, a.Confidence, scope); err != nil {
			return fmt.Errorf("seed attribute %s: %w", a.Key, err)
		}
	}
	for _, t := range f.Targets {
		if err := st.UpsertTarget(ctx, t.Caller, t.Parameter, t.Value, t.Confidence, "fixture", ""); err != nil {
			return fmt.Errorf("seed target %s: %w", t.Parameter, err)
		}
	}

	base := time.Now().UTC().Truncate(time.Minute)
	for _, sc := range f.Scores {
		conf := 1.0
		if sc.Confidence != nil {
			conf = *sc.Confidence
		}
		start := base.Add(-time.Duration(len(sc.Scores)) * time.Minute)
		for i, v := range sc.Scores {
			ev := store.ScoreEvent{
				CallerID: sc.Caller, ParameterID: sc.Parameter, Score: v, Confidence: conf,
				ScoredAt: start.Add(time.Duration(i) * time.Minute),
			}
			if err := st.AppendScore(ctx, ev); err != nil {
				return fmt.Errorf("seed scores %s/%s: %w", sc.Caller, sc.Parameter, err)
			}
		}
	}
	return nil
}

func (fs FixtureSpec) record() (spec.Record, error) {
	if fs.Slug == "" {
		return spec.Record{}, fmt.Errorf("fixture spec without slug")
	}
	rec := spec.Record{
		Slug:       fs.Slug,
		OutputType: spec.OutputType(strings.ToUpper(fs.OutputType)),
		IsActive:   fs.Active == nil || *fs.Active,
		IsDirty:    fs.Dirty,
		Version:    fs.Version,
	}
	var err error
	if fs.Config != nil {
		if rec.Config, err = spec.NewConfig(fs.Config); err != nil {
			return spec.Record{}, fmt.Errorf("spec %s config: %w", fs.Slug, err)
		}
	}
	if fs.RawSource != nil {
		if rec.RawSource, err = spec.NewConfig(fs.RawSource); err != nil {
			return spec.Record{}, fmt.Errorf("spec %s raw source: %w", fs.Slug, err)
		}
	}
	return rec, nil
}

// #endregion seed

// #region check

func check(ctx context.Context, st *store.Store, exp FixtureExpected, res RunResult) []string {
	var out []string
	miss := func(format string, args ...any) {
		out = append(out, fmt.Sprintf("caller %s: ", exp.Caller)+fmt.Sprintf(format, args...))
	}

	if exp.ConfigErr != (res.ConfigErr != nil) {
		miss("config error: expected %v, got %v", exp.ConfigErr, res.ConfigErr)
	}

	if len(exp.Attributes) > 0 {
		prof, err := st.FindAttributes(ctx, exp.Caller, store.ScopeLearnerProfile)
		if err != nil {
			miss("read attributes: %v", err)
		}
		for _, key := range sortedKeys(exp.Attributes) {
			want := exp.Attributes[key]
			got, ok := prof[key]
			switch {
			case !ok:
				miss("attribute %s: expected %q, missing", key, want)
			case got != want:
				miss("attribute %s: expected %q, got %q", key, want, got)
			}
		}
	}

	for _, param := range sortedKeys(exp.Targets) {
		want := exp.Targets[param]
		t, err := st.FindTarget(ctx, exp.Caller, param)
		switch {
		case err != nil:
			miss("read target %s: %v", param, err)
		case t == nil:
			miss("target %s: expected %s, missing", param, formatFloat(want))
		case math.Abs(t.TargetValue-want) > valueTolerance:
			miss("target %s: expected %s, got %s", param, formatFloat(want), formatFloat(t.TargetValue))
		}
	}

	sum := res.Summary
	if sum == nil {
		if exp.SpecsRun != nil || exp.Errors != nil || len(exp.Skipped) > 0 {
			miss("no completed run to check counts against")
		}
		return out
	}
	if exp.SpecsRun != nil && sum.SpecsRun != *exp.SpecsRun {
		miss("specs run: expected %d, got %d", *exp.SpecsRun, sum.SpecsRun)
	}
	if exp.Errors != nil && len(sum.Errors) != *exp.Errors {
		miss("errors: expected %d, got %d (%v)", *exp.Errors, len(sum.Errors), sum.Errors)
	}
	if len(exp.Skipped) > 0 {
		var got []string
		for _, s := range sum.Skipped {
			got = append(got, s.SpecSlug)
		}
		slices.Sort(got)
		want := slices.Clone(exp.Skipped)
		slices.Sort(want)
		if !slices.Equal(got, want) {
			miss("skipped: expected %v, got %v", want, got)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// #endregion check

// #region summarize

// Summarize computes aggregate statistics from a replay report.
func Summarize(r *Report) ReplaySummary {
	s := ReplaySummary{TotalRuns: len(r.Runs), Mismatches: len(r.Mismatches)}
	for _, run := range r.Runs {
		if run.Summary == nil {
			s.Aborted++
			continue
		}
		s.SpecsRun += run.Summary.SpecsRun
		s.ProfileUpdates += run.Summary.ProfileUpdates
		s.TargetsCreated += run.Summary.TargetsCreated
		s.TargetsUpdated += run.Summary.TargetsUpdated
		s.Skipped += len(run.Summary.Skipped)
		s.Errors += len(run.Summary.Errors)
	}
	return s
}

// #endregion summarize
