package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"
	"github.com/zeusync/ecs/internal/config"
	"github.com/zeusync/ecs/internal/content/basics"
	"github.com/zeusync/ecs/internal/core/entity"
	"github.com/zeusync/ecs/internal/core/module"
	"github.com/zeusync/ecs/internal/core/observability/log"
	"github.com/zeusync/ecs/internal/core/runtime"
	"github.com/zeusync/ecs/internal/injector"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		hold       = flag.Bool("hold", false, "keep running until interrupted")
		cpuProfile = flag.String("cpuprofile", "", "write a CPU profile into this directory")
	)
	flag.Parse()

	if *cpuProfile != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*cpuProfile), profile.Quiet).Stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *hold); err != nil {
		fmt.Fprintln(os.Stderr, "ecsd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, hold bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Prefabs.Paths) == 0 {
		cfg.Prefabs.Paths = []string{"assets/prefabs"}
	}

	rt, cleanup, err := injector.InitializeRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer cleanup()

	logger := rt.Logger()

	report, err := rt.Initialize(ctx, module.NewStaticProvider(basics.Package()))
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	logger.Info("packages registered",
		log.Strings("packages", report.Packages),
		log.Int("components", report.Components),
		log.Int("events", report.Events))

	if _, err = basics.Install(rt.Dispatcher, logger); err != nil {
		return err
	}
	if _, err = rt.LoadPrefabs(cfg.Prefabs.Paths...); err != nil {
		return err
	}

	if err := skirmish(ctx, rt, logger); err != nil {
		return err
	}

	m := rt.Dispatcher.Metrics()
	logger.Info("dispatch summary",
		log.Uint64("published", m.Published),
		log.Uint64("delivered", m.DeliveredHandlers),
		log.Uint64("consumed", m.Consumed),
		log.Uint64("replicated", m.Replicated),
		log.Int("entities", rt.Entities.Count()))

	if hold {
		logger.Info("holding until interrupted")
		<-ctx.Done()
	}
	return nil
}

// skirmish spawns a goblin and a golem and hits both until the goblin dies.
func skirmish(ctx context.Context, rt *runtime.Context, logger log.Log) error {
	goblin, err := rt.Spawn("goblin")
	if err != nil {
		return err
	}
	golem, err := rt.Spawn("golem")
	if err != nil {
		return err
	}

	for round := 1; rt.Entities.Alive(goblin); round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rt.Dispatcher.PublishTo(ctx, golem, &basics.Damage{Amount: 3, Source: goblin}); err != nil {
			return err
		}
		if err := rt.Dispatcher.PublishTo(ctx, goblin, &basics.Damage{Amount: 2, Source: golem}); err != nil {
			return err
		}
		if h, err := entity.Get[basics.Health](rt.Entities, goblin); err == nil {
			logger.Info("round", log.Int("round", round), log.Int("goblin_hp", h.Current))
		}
	}

	h, err := entity.Get[basics.Health](rt.Entities, golem)
	if err != nil {
		return err
	}
	logger.Info("golem stands", log.Int("hp", h.Current))
	return nil
}
