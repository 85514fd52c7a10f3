package permissions

import (
	"fmt"
	"strings"

	apperrors "github.com/charlesng35/kbguard/pkg/errors"
)

// Scope distinguishes tenant-global assignments from assignments on a single resource.
type Scope int

const (
	ScopeGlobal Scope = iota
	ScopeResource
)

func (s Scope) String() string {
	if s == ScopeResource {
		return "resource"
	}
	return "global"
}

// RoleKind is the fixed precedence tier of a role.
type RoleKind string

const (
	KindSuperAdmin RoleKind = "super_admin"
	KindAdmin      RoleKind = "admin"
	KindEditor     RoleKind = "editor"
	KindViewer     RoleKind = "viewer"
	KindUser       RoleKind = "user"
	KindGuest      RoleKind = "guest"
)

type kindTraits struct {
	priority int
	global   bool
	resource bool
}

// kindTable is the single source of truth for ordering and scope compatibility.
// Lower priority wins. Every kind must appear here.
var kindTable = map[RoleKind]kindTraits{
	KindSuperAdmin: {priority: 0, global: true, resource: false},
	KindAdmin:      {priority: 1, global: true, resource: false},
	KindEditor:     {priority: 2, global: true, resource: true},
	KindViewer:     {priority: 3, global: true, resource: true},
	KindUser:       {priority: 4, global: true, resource: false},
	KindGuest:      {priority: 5, global: false, resource: true},
}

// unrankedPriority sorts after every known kind.
const unrankedPriority = 1 << 16

// AllKinds lists every role kind in priority order.
func AllKinds() []RoleKind {
	return []RoleKind{KindSuperAdmin, KindAdmin, KindEditor, KindViewer, KindUser, KindGuest}
}

// ParseRoleKind converts a stored or requested kind into a RoleKind.
func ParseRoleKind(value string) (RoleKind, error) {
	kind := RoleKind(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := kindTable[kind]; !ok {
		return "", apperrors.NewValidation(fmt.Sprintf("unknown role kind %q", value))
	}
	return kind, nil
}

// Valid reports whether k is a known kind.
func (k RoleKind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}

// Priority returns the numeric tier; unknown kinds rank below every known kind.
func (k RoleKind) Priority() int {
	traits, ok := kindTable[k]
	if !ok {
		return unrankedPriority
	}
	return traits.priority
}

// Outranks reports whether k is a strictly higher tier than other.
func (k RoleKind) Outranks(other RoleKind) bool {
	return k.Priority() < other.Priority()
}

// AllowsScope reports whether a role of this kind may be assigned at the given scope.
// Unknown kinds allow nothing.
func (k RoleKind) AllowsScope(scope Scope) bool {
	traits, ok := kindTable[k]
	if !ok {
		return false
	}
	if scope == ScopeResource {
		return traits.resource
	}
	return traits.global
}

// CheckScope returns a scope-mismatch error when k cannot be assigned at scope.
func (k RoleKind) CheckScope(scope Scope) error {
	if k.AllowsScope(scope) {
		return nil
	}
	return apperrors.ErrScopeMismatch.WithMessage(
		fmt.Sprintf("role kind %q cannot be assigned at %s scope", k, scope))
}
