// benchdrive runs the group-messaging benchmark: it fans the lifecycle
// commands out over local or remote endpoints, collects the timing and
// bandwidth measurements, and persists the result table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/mlsbench/mlsbench/internal/config"
	"github.com/mlsbench/mlsbench/internal/dispatch"
	"github.com/mlsbench/mlsbench/internal/endpoint"
	"github.com/mlsbench/mlsbench/internal/lg"
	"github.com/mlsbench/mlsbench/internal/persistence"
	"github.com/mlsbench/mlsbench/internal/publish"
	"github.com/mlsbench/mlsbench/internal/resultstore"
	"github.com/mlsbench/mlsbench/internal/scenario"
)

func main() {
	var (
		cfgPath  = flag.String("config", "benchmark.yaml", "path to the benchmark config file")
		scenName = flag.String("scenario", "lifecycle", "lifecycle or grouped")
		debug    = flag.Bool("debug", false, "enable debug logging")
		format   = flag.String("log-format", "console", "json or console")
	)
	flag.Parse()

	logger := lg.New(&lg.Config{ServiceName: "benchdrive", Debug: *debug, Format: *format})
	defer logger.Sync()

	if err := run(logger, *cfgPath, *scenName); err != nil {
		logger.Error("benchmark failed", lg.Err(err))
		os.Exit(1)
	}
}

func run(logger lg.Logger, cfgPath, scenName string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	ctx := lg.Attach(context.Background(), logger)

	resultPath := cfg.ResultPath()
	if scenName == "lifecycle" {
		if _, err := os.Stat(resultPath); err == nil {
			logger.Info("result file exists, refusing to overwrite", lg.String("path", resultPath))
			return nil
		}
	}

	if cfg.RunServices && !cfg.Remote {
		if err := startLocalServices(ctx, cfg, logger); err != nil {
			return err
		}
	}

	eps, cleanup, err := buildEndpoints(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	d := dispatch.New(logger, cfg.ClientNames(), cfg.Prefix())

	if cfg.Remote {
		logger.Info("preparing remote working directories", lg.Int("endpoints", len(eps)))
		if err := scenario.PrepareRemoteDirs(ctx, d, eps); err != nil {
			return fmt.Errorf("prepare remote dirs: %w", err)
		}
		clientCfg, err := cfg.ClientConfigYAML()
		if err != nil {
			return err
		}
		if err := scenario.PushFile(ctx, d, eps, clientCfg, "./"+config.ClientConfigName); err != nil {
			return fmt.Errorf("push client config: %w", err)
		}
	}

	switch scenName {
	case "lifecycle":
		if err := runLifecycle(ctx, cfg, logger, d, eps, resultPath); err != nil {
			return err
		}
	case "grouped":
		g := &scenario.Grouped{
			Log:        logger,
			Dispatcher: d,
			Endpoints:  eps,
			GroupSize:  cfg.GroupSize,
		}
		if err := g.Setup(ctx); err != nil {
			return err
		}
		logger.Info("grouped setup complete",
			lg.Int("endpoints", len(eps)), lg.Int("group_size", cfg.GroupSize))
	default:
		return fmt.Errorf("unknown scenario %q", scenName)
	}

	if err := scenario.Clean(ctx, d, eps); err != nil {
		logger.Warn("endpoint cleanup failed", lg.Err(err))
	}
	return nil
}

func runLifecycle(ctx context.Context, cfg *config.Config, logger lg.Logger, d *dispatch.Dispatcher, eps []*endpoint.Endpoint, resultPath string) error {
	runID := uuid.New()
	var sink scenario.StepSink
	if cfg.KafkaBroker != "" {
		pub := publish.New(cfg.KafkaBroker, cfg.KafkaTopic, logger)
		defer pub.Close()
		sink = func(step string, names []string, table [][]dispatch.Measurement) {
			if err := pub.PublishStep(ctx, runID, step, names, table); err != nil {
				logger.Warn("publish failed", lg.String("step", step), lg.Err(err))
			}
		}
	}

	sc := &scenario.Lifecycle{
		Log:        logger,
		Dispatcher: d,
		Endpoints:  eps,
		Community:  cfg.Community,
		Group:      cfg.Group,
		OnStep:     sink,
	}
	results, err := sc.Run(ctx)
	if err != nil {
		return err
	}

	if err := persistence.SaveJSONFile(results, resultPath); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	logger.Info("results saved", lg.String("path", resultPath), lg.String("run", runID.String()))

	if cfg.MongoURI != "" {
		store, err := resultstore.NewStore(resultstore.MongoStore, &resultstore.MongoConfig{
			URI:      cfg.MongoURI,
			DBName:   cfg.MongoDB,
			CollName: "runs",
		})
		if err != nil {
			logger.Warn("mongo archive unavailable", lg.Err(err))
		} else if err := store.Save(ctx, runID.String(), results); err != nil {
			logger.Warn("mongo archive failed", lg.Err(err))
		}
	}
	return nil
}
