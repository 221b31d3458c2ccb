package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/paw2paw/hf-pipeline/internal/probe"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pipeline readiness over gRPC health checks",
		Long: `Serve periodically resolves the stage configuration and guardrails and
publishes the result through the standard grpc.health.v1 service, both
for the server ("") and for ` + probe.ServiceName + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			addr := e.cfg.Serve.Addr
			if v, _ := cmd.Flags().GetString("addr"); v != "" {
				addr = v
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := probe.New(e.stack.Scheduler, e.stack.Guardrails, e.cfg.Serve.ProbeInterval, e.logger)
			e.out.Step("serving health on %s (every %s)\n", addr, e.cfg.Serve.ProbeInterval)
			if err := probe.Serve(ctx, addr, p); err != nil {
				return fail(e.out, "health server failed", err.Error())
			}
			e.out.Info("shut down\n")
			return nil
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides serve.addr)")
	return cmd
}

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running serve instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newPrinter(cmd)
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fail(out, "invalid configuration", err.Error())
			}
			addr := cfg.Serve.Addr
			if v, _ := cmd.Flags().GetString("addr"); v != "" {
				addr = v
			}
			if strings.HasPrefix(addr, ":") {
				addr = "localhost" + addr
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")

			c, err := probe.NewClient(addr)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			status, err := c.Status(ctx, probe.ServiceName)
			if err != nil {
				return fail(out, "health check failed", err.Error(),
					"Start the probe first:\n  adaptctl serve")
			}
			if status != healthpb.HealthCheckResponse_SERVING {
				return fail(out, "pipeline not serving", "status "+status.String(),
					"Inspect the stage configuration:\n  adaptctl stages")
			}
			out.Success("%s is SERVING\n", addr)
			return nil
		},
	}
	cmd.Flags().String("addr", "", "Probe address (defaults to serve.addr)")
	cmd.Flags().Duration("timeout", 5*time.Second, "Check timeout")
	return cmd
}
