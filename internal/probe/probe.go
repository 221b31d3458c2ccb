// Package probe exposes pipeline readiness over the standard gRPC health protocol.
// A pipeline is SERVING while its stage configuration resolves. Guardrail load
// failures are reported but do not flip the status, since runs fall back to the
// compiled defaults. The result is refreshed on a fixed interval.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/paw2paw/hf-pipeline/internal/guardrail"
	"github.com/paw2paw/hf-pipeline/internal/logging"
	"github.com/paw2paw/hf-pipeline/internal/stages"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// #region types

// ServiceName is the health service name the probe reports under, alongside "".
const ServiceName = "hfpipeline.Pipeline"

// DefaultInterval is how often the probe re-checks when none is configured.
const DefaultInterval = 15 * time.Second

// StageLoader resolves the ordered stage list.
type StageLoader interface {
	LoadStages(ctx context.Context) ([]stages.Stage, error)
}

// GuardrailLoader loads the current guardrail configuration.
type GuardrailLoader interface {
	Load(ctx context.Context) (guardrail.Config, []string, error)
}

// Status is the outcome of one check.
type Status struct {
	Serving   bool
	Stages    int
	Guardrail string // source spec slug, "" for defaults
	Reason    string // why the pipeline is not serving, or a degraded note
	CheckedAt time.Time
}

// #endregion types

// #region probe

// Probe owns a gRPC health server and keeps its status current.
type Probe struct {
	health     *health.Server
	stages     StageLoader
	guardrails GuardrailLoader
	interval   time.Duration
	logger     *slog.Logger

	mu   sync.Mutex
	last Status
}

// New creates a probe. A non-positive interval uses DefaultInterval. The status is
// NOT_SERVING until the first Check.
func New(st StageLoader, g GuardrailLoader, interval time.Duration, logger *slog.Logger) *Probe {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Probe{
		health:     health.NewServer(),
		stages:     st,
		guardrails: g,
		interval:   interval,
		logger:     logging.OrDefault(logger).With("component", "probe"),
	}
	p.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return p
}

// Register adds the health service to s.
func (p *Probe) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, p.health)
}

// Check evaluates readiness once and publishes the result.
func (p *Probe) Check(ctx context.Context) Status {
	st := Status{CheckedAt: time.Now().UTC()}
	list, err := p.stages.LoadStages(ctx)
	if err != nil {
		st.Reason = fmt.Sprintf("stages: %v", err)
	} else {
		st.Serving = true
		st.Stages = len(list)
		cfg, _, gerr := p.guardrails.Load(ctx)
		if gerr != nil {
			st.Reason = fmt.Sprintf("guardrails unavailable, runs use defaults: %v", gerr)
		} else {
			st.Guardrail = cfg.SourceSpec
		}
	}

	p.mu.Lock()
	changed := p.last.Serving != st.Serving || p.last.CheckedAt.IsZero()
	p.last = st
	p.mu.Unlock()

	if st.Serving {
		p.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		p.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	if changed {
		p.logger.Info("readiness changed", "serving", st.Serving, "stages", st.Stages, "reason", st.Reason)
	}
	return st
}

// Last returns the most recent check result.
func (p *Probe) Last() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Run checks immediately and then on every interval until ctx is done. On exit
// every service is marked NOT_SERVING.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			p.health.Shutdown()
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

func (p *Probe) set(status healthpb.HealthCheckResponse_ServingStatus) {
	p.health.SetServingStatus("", status)
	p.health.SetServingStatus(ServiceName, status)
}

// #endregion probe

// #region serve

// Serve listens on addr and serves the health service until ctx is done.
func Serve(ctx context.Context, addr string, p *Probe) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return ServeListener(ctx, lis, p)
}

// ServeListener serves the health service on lis until ctx is done. It returns
// only after the refresh loop has stopped, so callers may close the loaders.
func ServeListener(ctx context.Context, lis net.Listener, p *Probe) error {
	srv := grpc.NewServer()
	p.Register(srv)

	ctx, cancel := context.WithCancel(ctx)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		p.Run(ctx)
	}()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	p.logger.Info("health probe listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	cancel()
	<-runDone
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve health: %w", err)
	}
	return nil
}

// #endregion serve
