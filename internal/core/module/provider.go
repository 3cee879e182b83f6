// Package module feeds content-package types into the registries.
package module

import (
	"reflect"

	"github.com/zeusync/ecs/internal/core/models"
)

// Candidate is a type offered by a content package.
type Candidate struct {
	Package string
	Local   string
	Type    reflect.Type

	// Excluded types are skipped by Scan.
	Excluded bool
	// Network marks an event type as replicated.
	Network bool
}

// Name is the qualified name the candidate registers under.
func (c Candidate) Name() models.Name {
	return models.NewName(c.Package, c.Local)
}

// Provider supplies candidate types in a stable order. Scan calls each
// method once.
type Provider interface {
	Components() []Candidate
	Events() []Candidate
}
