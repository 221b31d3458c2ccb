package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/paw2paw/hf-pipeline/internal/cache"
	"github.com/paw2paw/hf-pipeline/internal/config"
	"github.com/paw2paw/hf-pipeline/internal/logging"
	"github.com/paw2paw/hf-pipeline/internal/orchestrator"
	"github.com/paw2paw/hf-pipeline/internal/printer"
	"github.com/paw2paw/hf-pipeline/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// #region printed-errors

// printedError marks an error whose details the printer already wrote.
type printedError struct{ err error }

func (e printedError) Error() string { return e.err.Error() }
func (e printedError) Unwrap() error { return e.err }

func printed(err error) bool {
	var p printedError
	return errors.As(err, &p)
}

// fail prints a formatted error and returns it marked as printed.
func fail(out *printer.Printer, title, explanation string, suggestions ...string) error {
	return printedError{out.Error(title, explanation, suggestions)}
}

// #endregion printed-errors

// #region settings

// loadConfig resolves the config file, environment and persistent flags, then
// validates the result once.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Read(path)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Database = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v, _ := cmd.Flags().GetString("stage-mode"); v != "" {
		cfg.Pipeline.StageMode = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func newPrinter(cmd *cobra.Command) *printer.Printer {
	return printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// #endregion settings

// #region env

// env is everything a pipeline command needs.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	out    *printer.Printer
	stack  *orchestrator.Stack
	redis  *cache.Redis
}

// openEnv loads configuration and wires the pipeline over the configured store.
func openEnv(cmd *cobra.Command) (*env, error) {
	out := newPrinter(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fail(out, "invalid configuration", err.Error(),
			"Check the file passed with --config and any HFP_* environment variables")
	}
	logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())

	st, err := store.NewStore(cfg.Database)
	if err != nil {
		return nil, fail(out, "cannot open database", err.Error(),
			fmt.Sprintf("Check that %s is a writable path", cfg.Database))
	}

	e := &env{cfg: cfg, logger: logger, out: out}
	opts := orchestrator.StackOptions{
		StageSpec:   cfg.Pipeline.StageSpec,
		StageMode:   cfg.StageMode(),
		SpecTimeout: cfg.Pipeline.SpecTimeout,
		CacheTTL:    &cfg.Registry.CacheTTL,
		Logger:      logger,
	}
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Namespace)
		if err != nil {
			st.Close()
			return nil, err
		}
		if err := rc.Ping(cmd.Context()); err != nil {
			logger.Warn("redis unreachable, spec cache reads will fall through to storage", "addr", cfg.Redis.Addr, "error", err)
		}
		e.redis = rc
		opts.Cache = rc
	}

	stack, err := orchestrator.NewStack(st, opts)
	if err != nil {
		e.stack = &orchestrator.Stack{Store: st}
		e.Close()
		return nil, err
	}
	e.stack = stack
	return e, nil
}

// Close releases the store and the Redis client.
func (e *env) Close() {
	if e.redis != nil {
		e.redis.Close()
	}
	if e.stack != nil && e.stack.Store != nil {
		e.stack.Store.Close()
	}
}

// #endregion env
