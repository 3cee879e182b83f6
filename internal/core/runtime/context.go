// Package runtime wires the registries, stores and dispatcher into one
// explicitly owned instance. Instances share nothing.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeusync/ecs/internal/config"
	"github.com/zeusync/ecs/internal/core/codec"
	"github.com/zeusync/ecs/internal/core/entity"
	"github.com/zeusync/ecs/internal/core/events/bus"
	"github.com/zeusync/ecs/internal/core/models"
	"github.com/zeusync/ecs/internal/core/module"
	"github.com/zeusync/ecs/internal/core/observability/log"
	"github.com/zeusync/ecs/internal/core/prefab"
	"github.com/zeusync/ecs/internal/core/registry"
	"github.com/zeusync/ecs/internal/core/replication"
	"github.com/zeusync/ecs/pkg/concurrent"
	"github.com/zeusync/ecs/pkg/sequence"
)

var ErrNotInitialized = errors.New("runtime not initialized")

type Context struct {
	Codecs     *codec.Registry
	Components *registry.ComponentRegistry
	Events     *registry.EventRegistry
	Entities   *entity.Store
	Prefabs    *prefab.Store
	Dispatcher *bus.Dispatcher

	cfg         *config.Config
	root        log.Log
	logger      log.Log
	sink        replication.Sink
	lifecycle   entity.Listener
	packages    []string
	initialized bool
	closed      bool
}

// New builds an empty runtime. sink may be nil.
func New(cfg *config.Config, logger log.Log, sink replication.Sink) *Context {
	if cfg == nil {
		cfg = config.Default()
	}
	logger = log.OrNop(logger)

	codecs := codec.NewRegistry(logger)
	components := registry.NewComponentRegistry(codecs, logger)
	events := registry.NewEventRegistry(codecs, logger)
	entities := entity.NewStore(components, logger)

	opts := []bus.Option{bus.WithMaxDepth(cfg.Dispatch.MaxDepth)}
	if sink != nil {
		opts = append(opts, bus.WithSink(sink))
	}

	return &Context{
		Codecs:     codecs,
		Components: components,
		Events:     events,
		Entities:   entities,
		Prefabs:    prefab.NewStore(components, logger),
		Dispatcher: bus.New(events, entities, logger, opts...),
		cfg:        cfg,
		root:       logger,
		logger:     logger.With(log.String("component", "runtime")),
		sink:       sink,
	}
}

// Initialize registers the provider's types and the engine lifecycle
// events. It runs once; the provider is not consulted again.
func (c *Context) Initialize(ctx context.Context, p module.Provider) (module.Report, error) {
	if c.initialized {
		return module.Report{}, errors.New("runtime already initialized")
	}
	report, err := module.Scan(p, c.Components, c.Events, c.logger)
	c.packages = append(c.packages, report.Packages...)
	if err != nil {
		return report, err
	}
	if c.lifecycle, err = c.Dispatcher.InstallLifecycle(ctx); err != nil {
		return report, err
	}
	c.packages = append(c.packages, bus.EnginePackage)
	c.initialized = true
	c.closed = false
	return report, nil
}

const parseWorkers = 4

// LoadPrefabs defines the prefabs of every document under paths. A directory
// contributes its .yaml, .yml and .json files in name order. Documents are
// parsed concurrently and nothing is defined unless all of them parse; they
// are then applied one by one in order.
func (c *Context) LoadPrefabs(paths ...string) ([]string, error) {
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	files, err := expand(paths)
	if err != nil {
		return nil, err
	}
	docs := make([]*prefab.Document, len(files))
	indices := make([]int, len(files))
	for i := range indices {
		indices[i] = i
	}
	err = concurrent.Concurrent(context.Background(), sequence.From(indices), parseWorkers,
		func(_ context.Context, i int) error {
			doc, err := prefab.LoadFile(files[i])
			if err != nil {
				return fmt.Errorf("%s: %w", files[i], err)
			}
			docs[i] = doc
			return nil
		})
	if err != nil {
		return nil, err
	}

	var defined []string
	for i, doc := range docs {
		file := files[i]
		names, err := doc.Apply(c.Prefabs)
		defined = append(defined, names...)
		if err != nil {
			return defined, fmt.Errorf("%s: %w", file, err)
		}
		c.logger.Debug("prefab document loaded", log.String("path", file), log.Strings("prefabs", names))
	}
	if missing := c.Prefabs.Undefined(); len(missing) > 0 {
		c.logger.Warn("prefabs reference undefined parents", log.Strings("parents", missing))
	}
	c.logger.Info("prefabs loaded", log.Int("files", len(files)), log.Int("prefabs", len(defined)))
	return defined, nil
}

func expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".yaml", ".yml", ".json":
				if !e.IsDir() {
					found = append(found, filepath.Join(p, e.Name()))
				}
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// Spawn instantiates a prefab.
func (c *Context) Spawn(name string) (models.EntityID, error) {
	return c.Prefabs.Instantiate(name, c.Entities)
}

// Close destroys every entity, forgets the prefabs and handlers, drops the
// scanned packages from the registries and closes the sink when it can be
// closed. A closed runtime can be initialized again, without replication.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.Entities.Clear()
	if c.lifecycle != nil {
		c.Entities.RemoveListener(c.lifecycle)
		c.lifecycle = nil
	}
	for _, pkg := range c.packages {
		c.Components.UnregisterPackage(pkg)
		c.Events.UnregisterPackage(pkg)
	}
	c.packages = nil
	c.Prefabs = prefab.NewStore(c.Components, c.root)
	c.initialized = false

	c.Dispatcher.Reset()

	sink := c.sink
	c.sink = nil
	if closer, ok := sink.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close sink: %w", err)
		}
	}
	return nil
}

func (c *Context) Config() *config.Config { return c.cfg }

// Logger returns the logger the runtime was built with.
func (c *Context) Logger() log.Log { return c.root }
