package module

import (
	"reflect"
	"strings"

	"github.com/zeusync/ecs/internal/core/models"
)

var (
	doNotAutoRegisterType = reflect.TypeFor[models.DoNotAutoRegister]()
	networkEventType      = reflect.TypeFor[models.NetworkEvent]()
)

// Package is a content package declaring its own types. The zero value is
// not usable; create one with NewPackage.
type Package struct {
	id         string
	components []Candidate
	events     []Candidate
}

func NewPackage(id string) *Package {
	return &Package{id: id}
}

func (p *Package) ID() string { return p.id }

// Component declares a component type by example value (T or *T). The local
// name is the type name without a trailing "Component".
func (p *Package) Component(v any) *Package {
	t := reflect.TypeOf(v)
	p.components = append(p.components, p.candidate(t, ComponentName(t)))
	return p
}

// ComponentAs declares a component type under an explicit local name.
func (p *Package) ComponentAs(local string, v any) *Package {
	p.components = append(p.components, p.candidate(reflect.TypeOf(v), local))
	return p
}

// Event declares an event type by example value (T or *T).
func (p *Package) Event(v any) *Package {
	p.events = append(p.events, p.candidate(reflect.TypeOf(v), ""))
	return p
}

func (p *Package) candidate(t reflect.Type, local string) Candidate {
	base := t
	if base != nil && base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if local == "" && base != nil {
		local = base.Name()
	}
	return Candidate{
		Package:  p.id,
		Local:    local,
		Type:     base,
		Excluded: implements(base, doNotAutoRegisterType),
		Network:  implements(base, networkEventType),
	}
}

// ComponentName derives a component's local name: the Go type name with a
// trailing "Component" removed, matched case-insensitively. A type named
// just "Component" keeps its name.
func ComponentName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	const suffix = "component"
	if len(name) > len(suffix) && strings.EqualFold(name[len(name)-len(suffix):], suffix) {
		return name[:len(name)-len(suffix)]
	}
	return name
}

func implements(t, iface reflect.Type) bool {
	if t == nil {
		return false
	}
	return t.Implements(iface) || reflect.PointerTo(t).Implements(iface)
}

// StaticProvider serves the types declared by a fixed set of packages, in
// package order.
type StaticProvider struct {
	packages []*Package
}

var _ Provider = (*StaticProvider)(nil)

func NewStaticProvider(packages ...*Package) *StaticProvider {
	return &StaticProvider{packages: packages}
}

// Packages lists the package ids served.
func (s *StaticProvider) Packages() []string {
	out := make([]string, len(s.packages))
	for i, p := range s.packages {
		out[i] = p.id
	}
	return out
}

func (s *StaticProvider) Components() []Candidate {
	var out []Candidate
	for _, p := range s.packages {
		out = append(out, p.components...)
	}
	return out
}

func (s *StaticProvider) Events() []Candidate {
	var out []Candidate
	for _, p := range s.packages {
		out = append(out, p.events...)
	}
	return out
}
