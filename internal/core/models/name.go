package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidName = errors.New("invalid qualified name")

// Name is a qualified type name: the providing package plus a local name.
// Lookups are case-insensitive; Key returns the normalised form.
type Name struct {
	Package string
	Local   string
}

func NewName(pkg, local string) Name {
	return Name{Package: pkg, Local: local}
}

// ParseName parses "package:local".
func ParseName(s string) (Name, error) {
	pkg, local, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || pkg == "" || local == "" || strings.Contains(local, ":") {
		return Name{}, fmt.Errorf("%w: %q", ErrInvalidName, s)
	}
	return Name{Package: pkg, Local: local}, nil
}

func (n Name) String() string {
	return n.Package + ":" + n.Local
}

// Key is the lookup key for the name.
func (n Name) Key() string {
	return strings.ToLower(n.String())
}

func (n Name) IsZero() bool {
	return n.Package == "" && n.Local == ""
}

func (n Name) Valid() bool {
	return n.Package != "" && n.Local != "" &&
		!strings.Contains(n.Package, ":") && !strings.Contains(n.Local, ":")
}

// Equal compares two names case-insensitively.
func (n Name) Equal(other Name) bool {
	return strings.EqualFold(n.Package, other.Package) && strings.EqualFold(n.Local, other.Local)
}

// InPackage reports whether the name belongs to pkg.
func (n Name) InPackage(pkg string) bool {
	return strings.EqualFold(n.Package, pkg)
}
