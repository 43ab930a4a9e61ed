// Command dagframe runs a pipeline of dataframe steps described in a YAML
// file against the local filesystem.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/thanos-io/objstore/providers/filesystem"

	"github.com/dagframe/dagframe/pkg/cfg"
	"github.com/dagframe/dagframe/pkg/execution/arrowengine"
	"github.com/dagframe/dagframe/pkg/pipeline"
	util_log "github.com/dagframe/dagframe/pkg/util/log"
	"github.com/dagframe/dagframe/pkg/workflow"
)

func main() {
	var config Config
	if err := cfg.Parse(&config, flag.CommandLine, os.Args[1:], "config.file"); err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}

	logger := util_log.New(config.LogLevel, config.LogFormat, os.Stderr)
	util_log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil {
		level.Error(logger).Log("msg", "pipeline failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, config Config, logger log.Logger) (err error) {
	if config.ConfigFile == "" {
		return errors.New("-config.file is required")
	}
	wf, err := pipeline.Build(config.Config)
	if err != nil {
		return err
	}

	bkt, err := filesystem.NewBucket(config.StorageDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer bkt.Close()

	session := arrowengine.NewSession(arrowengine.SessionOptions{
		Conf:   config.engineConf(),
		Bucket: bkt,
	})
	defer func() {
		if cerr := session.Close(context.Background()); cerr != nil {
			level.Warn(logger).Log("msg", "failed to close session", "err", cerr)
		}
	}()

	reg := prometheus.NewRegistry()
	engine, err := arrowengine.New(arrowengine.Params{
		Session:    session,
		Logger:     logger,
		Registerer: reg,
	})
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, engine.Stop()) }()

	runner := workflow.NewRunner(workflow.RunnerParams{
		Logger:      logger,
		Registerer:  reg,
		Concurrency: config.Concurrency,
	})
	wctx, err := runner.Run(ctx, wf, engine)
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", "pipeline finished", "run", wctx.RunID().String(), "tasks", wctx.Len())

	if config.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(config.MetricsFile, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}
