package module

import (
	"errors"
	"fmt"

	"github.com/zeusync/ecs/internal/core/observability/log"
	"github.com/zeusync/ecs/internal/core/registry"
)

// Report summarises a scan.
type Report struct {
	Components int
	Events     int
	Skipped    int
	Packages   []string
}

// Scan registers every non-excluded candidate from p, components first, in
// the order p supplies them. It keeps going past failures and returns them
// joined, so one bad type does not hide the others.
func Scan(p Provider, components *registry.ComponentRegistry, events *registry.EventRegistry, logger log.Log) (Report, error) {
	logger = log.OrNop(logger)
	var (
		report Report
		errs   []error
		seen   = make(map[string]struct{})
	)

	note := func(pkg string) {
		if _, ok := seen[pkg]; !ok {
			seen[pkg] = struct{}{}
			report.Packages = append(report.Packages, pkg)
		}
	}

	for _, c := range p.Components() {
		if c.Excluded {
			report.Skipped++
			logger.Debug("component skipped", log.Stringer("name", c.Name()))
			continue
		}
		if _, err := components.Register(c.Name(), c.Type); err != nil {
			errs = append(errs, err)
			continue
		}
		note(c.Package)
		report.Components++
	}

	for _, c := range p.Events() {
		if c.Excluded {
			report.Skipped++
			logger.Debug("event skipped", log.Stringer("name", c.Name()))
			continue
		}
		if _, err := events.Register(c.Name(), c.Type, registry.WithNetwork(c.Network)); err != nil {
			errs = append(errs, err)
			continue
		}
		note(c.Package)
		report.Events++
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		logger.Error("package scan failed", log.Int("failures", len(errs)), log.Error(err))
		return report, fmt.Errorf("scan: %w", err)
	}

	logger.Info("package scan complete",
		log.Int("components", report.Components),
		log.Int("events", report.Events),
		log.Int("skipped", report.Skipped),
		log.Strings("packages", report.Packages))
	return report, nil
}
