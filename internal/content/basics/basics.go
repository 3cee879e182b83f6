// Package basics is the built-in content package: a handful of components,
// events and handlers that the demo binary and runtime tests build on.
package basics

import (
	"github.com/zeusync/ecs/internal/core/models"
	"github.com/zeusync/ecs/internal/core/module"
)

const PackageID = "basics"

type Location struct {
	X, Y float64
	Zone string
}

type Health struct {
	Current int
	Max     int
}

type DisplayName struct {
	Text string
}

type Item struct {
	Name  string
	Count int
}

type Inventory struct {
	Items []Item
	Owner models.EntityID
}

// Invulnerable entities ignore Damage.
type Invulnerable struct{}

type Damage struct {
	Amount int
	Source models.EntityID
}

type Heal struct {
	Amount int
}

// Died is replicated so peers can play their own effects.
type Died struct {
	models.Replicated
	Killer models.EntityID
}

// scratch is kept out of the registries.
type scratch struct {
	models.NoAutoRegister
	Notes []string
}

// Package declares the content types.
func Package() *module.Package {
	return module.NewPackage(PackageID).
		Component(Location{}).
		Component(Health{}).
		Component(DisplayName{}).
		Component(Inventory{}).
		Component(Invulnerable{}).
		Component(scratch{}).
		Event(Damage{}).
		Event(Heal{}).
		Event(Died{})
}
