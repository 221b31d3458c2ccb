package orchestrator

// #region imports
import (
	"log/slog"
	"time"

	"github.com/paw2paw/hf-pipeline/internal/adapt"
	"github.com/paw2paw/hf-pipeline/internal/aggregate"
	"github.com/paw2paw/hf-pipeline/internal/cache"
	"github.com/paw2paw/hf-pipeline/internal/deps"
	"github.com/paw2paw/hf-pipeline/internal/guardrail"
	"github.com/paw2paw/hf-pipeline/internal/logging"
	"github.com/paw2paw/hf-pipeline/internal/spec"
	"github.com/paw2paw/hf-pipeline/internal/stages"
	"github.com/paw2paw/hf-pipeline/internal/store"
)

// #endregion

// #region stack

// Stack is a fully wired pipeline over one SQLite store.
type Stack struct {
	Store        *store.Store
	Registry     *spec.Registry
	Scheduler    *stages.Scheduler
	Validator    *deps.Validator
	Guardrails   *guardrail.Policy
	Aggregator   *aggregate.Engine
	Adapter      *adapt.Engine
	Decisions    *logging.DecisionLog
	Orchestrator *Orchestrator
}

// StackOptions configure NewStack. The zero value gives a strict pipeline reading
// PIPELINE-001 through an in-process cache with spec.DefaultCacheTTL.
type StackOptions struct {
	StageSpec   string
	StageMode   stages.Mode
	SpecTimeout time.Duration
	Cache       cache.Cache // nil uses an in-process cache
	CacheTTL    *time.Duration // nil uses spec.DefaultCacheTTL; zero disables caching
	Logger      *slog.Logger
}

// NewStack wires every component over st.
func NewStack(st *store.Store, opts StackOptions) (*Stack, error) {
	ttl := spec.DefaultCacheTTL
	if opts.CacheTTL != nil {
		ttl = *opts.CacheTTL
	}
	logger := logging.OrDefault(opts.Logger)

	reg := spec.NewRegistry(st, opts.Cache, ttl, logger)
	policy := guardrail.NewPolicy(reg, logger)
	s := &Stack{
		Store:      st,
		Registry:   reg,
		Scheduler:  stages.NewScheduler(reg, opts.StageSpec, opts.StageMode, logger),
		Validator:  deps.NewValidator(reg, logger),
		Guardrails: policy,
		Aggregator: aggregate.NewEngine(reg, st, st, logger),
		Adapter:    adapt.NewEngine(reg, st, st, st, policy, logger),
		Decisions:  logging.NewDecisionLog(st.DB()),
	}

	o, err := NewOrchestrator(Components{
		Stages:     s.Scheduler,
		Specs:      reg,
		Validator:  s.Validator,
		Guardrails: policy,
		Aggregator: s.Aggregator,
		Adapter:    s.Adapter,
	}, Options{SpecTimeout: opts.SpecTimeout, Decisions: s.Decisions, Logger: logger})
	if err != nil {
		return nil, err
	}
	s.Orchestrator = o
	return s, nil
}

// #endregion
