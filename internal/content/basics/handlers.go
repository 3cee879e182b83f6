package basics

import (
	"errors"
	"reflect"

	"github.com/zeusync/ecs/internal/core/entity"
	"github.com/zeusync/ecs/internal/core/events/bus"
	"github.com/zeusync/ecs/internal/core/observability/log"
)

// Handler ids, usable in ordering constraints by other packages.
const (
	HandlerShield  = "basics.damage.shield"
	HandlerDamage  = "basics.damage.apply"
	HandlerHeal    = "basics.heal.apply"
	HandlerDespawn = "basics.died.despawn"
)

// Install registers the gameplay handlers.
func Install(d *bus.Dispatcher, logger log.Log) ([]bus.Subscription, error) {
	logger = log.OrNop(logger).With(log.String("package", PackageID))
	health := []reflect.Type{entity.TypeOf[Health]()}

	regs := []bus.Registration{
		{
			ID:         HandlerShield,
			Event:      bus.EventOf[Damage](),
			Components: []reflect.Type{entity.TypeOf[Invulnerable]()},
			Before:     []string{HandlerDamage},
			Handler: func(call *bus.Call) error {
				call.Consume()
				return nil
			},
		},
		{
			ID:         HandlerDamage,
			Event:      bus.EventOf[Damage](),
			Components: health,
			Handler:    bus.Typed(applyDamage),
		},
		{
			ID:         HandlerHeal,
			Event:      bus.EventOf[Heal](),
			Components: health,
			Handler:    bus.Typed(applyHeal),
		},
		{
			ID:              HandlerDespawn,
			Event:           bus.EventOf[Died](),
			RunWhenConsumed: true,
			Handler: bus.Typed(func(call *bus.Call, ev *Died) error {
				if !call.Targeted() {
					return nil
				}
				logger.Info("entity died", log.Stringer("entity", call.Entity()), log.Stringer("killer", ev.Killer))
				return call.Entities().Destroy(call.Entity())
			}),
		},
	}

	subs := make([]bus.Subscription, 0, len(regs))
	for _, reg := range regs {
		sub, err := d.Register(reg)
		if err != nil {
			for _, s := range subs {
				_ = s.Cancel()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func applyDamage(call *bus.Call, ev *Damage) error {
	if !call.Targeted() || ev.Amount <= 0 {
		return nil
	}
	h, err := entity.Get[Health](call.Entities(), call.Entity())
	if err != nil {
		return err
	}
	if h.Current == 0 {
		return nil
	}
	h.Current = max(h.Current-ev.Amount, 0)
	if h.Current > 0 {
		return nil
	}
	return call.PublishTo(call.Entity(), &Died{Killer: ev.Source})
}

func applyHeal(call *bus.Call, ev *Heal) error {
	if !call.Targeted() {
		return nil
	}
	if ev.Amount < 0 {
		return errors.New("negative heal")
	}
	h, err := entity.Get[Health](call.Entities(), call.Entity())
	if err != nil {
		return err
	}
	h.Current = min(h.Current+ev.Amount, h.Max)
	return nil
}
