package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/charlesng35/kbguard/pkg/errors"
)

// ResourceType is the closed set of resource kinds the engine can decide on.
type ResourceType string

const (
	ResourceKnowledgeBase ResourceType = "knowledgebase"
	ResourceDocument      ResourceType = "document"
	ResourceModel         ResourceType = "model"
	ResourceTenant        ResourceType = "tenant"
)

// Capability is an atomic permission type.
type Capability string

const (
	CapabilityRead   Capability = "read"
	CapabilityWrite  Capability = "write"
	CapabilityDelete Capability = "delete"
	CapabilityAdmin  Capability = "admin"
	CapabilityShare  Capability = "share"
	CapabilityExport Capability = "export"
)

var (
	allResourceTypes = []ResourceType{ResourceKnowledgeBase, ResourceDocument, ResourceModel, ResourceTenant}
	allCapabilities  = []Capability{CapabilityRead, CapabilityWrite, CapabilityDelete, CapabilityAdmin, CapabilityShare, CapabilityExport}

	// ownerCapabilities is the default set granted to a resource owner.
	ownerCapabilities = map[Capability]struct{}{
		CapabilityRead:   {},
		CapabilityWrite:  {},
		CapabilityDelete: {},
		CapabilityAdmin:  {},
		CapabilityShare:  {},
	}
)

// ResourceTypes returns every known resource type.
func ResourceTypes() []ResourceType {
	return append([]ResourceType(nil), allResourceTypes...)
}

// Capabilities returns every known capability.
func Capabilities() []Capability {
	return append([]Capability(nil), allCapabilities...)
}

// ParseResourceType validates a resource type supplied by a caller.
func ParseResourceType(value string) (ResourceType, error) {
	rt := ResourceType(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range allResourceTypes {
		if rt == known {
			return rt, nil
		}
	}
	return "", apperrors.NewValidation(fmt.Sprintf("unknown resource type %q", value))
}

// ParseCapability validates a capability supplied by a caller.
func ParseCapability(value string) (Capability, error) {
	capability := Capability(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range allCapabilities {
		if capability == known {
			return capability, nil
		}
	}
	return "", apperrors.NewValidation(fmt.Sprintf("unknown capability %q", value))
}

// OwnerGrants reports whether an owner implicitly holds the capability.
func OwnerGrants(capability Capability) bool {
	_, ok := ownerCapabilities[capability]
	return ok
}

// PermissionRef is the parsed form of a "<resource_type>_<capability>" code.
type PermissionRef struct {
	ResourceType ResourceType `json:"resource_type"`
	Capability   Capability   `json:"capability"`
}

// Code renders the stored permission code.
func (p PermissionRef) Code() string {
	return PermissionCode(p.ResourceType, p.Capability)
}

// Matches reports whether p grants capability on resource type rt.
func (p PermissionRef) Matches(rt ResourceType, capability Capability) bool {
	return p.ResourceType == rt && p.Capability == capability
}

// PermissionCode builds the stored code for a resource type and capability.
func PermissionCode(rt ResourceType, capability Capability) string {
	return string(rt) + "_" + string(capability)
}

// ParsePermissionCode splits a stored code at its last underscore and validates both halves.
func ParsePermissionCode(code string) (PermissionRef, error) {
	code = strings.TrimSpace(code)
	idx := strings.LastIndex(code, "_")
	if idx <= 0 || idx == len(code)-1 {
		return PermissionRef{}, fmt.Errorf("%w %q", ErrUnknownPermission, code)
	}

	rt, err := ParseResourceType(code[:idx])
	if err != nil {
		return PermissionRef{}, fmt.Errorf("%w %q", ErrUnknownPermission, code)
	}
	capability, err := ParseCapability(code[idx+1:])
	if err != nil {
		return PermissionRef{}, fmt.Errorf("%w %q", ErrUnknownPermission, code)
	}
	return PermissionRef{ResourceType: rt, Capability: capability}, nil
}

// Definition describes a permission registered in the catalog and synced to the store.
type Definition struct {
	Code         string
	ResourceType ResourceType
	Capability   Capability
	Description  string
}

type definitionRegistry struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
}

var globalRegistry = &definitionRegistry{
	definitions: make(map[string]*Definition),
}

var (
	// ErrUnknownPermission indicates a permission code that does not parse into the catalog enums.
	ErrUnknownPermission = errors.New("permission: unknown permission")

	errNilDefinition = errors.New("permission: nil definition")
	errDuplicateCode = errors.New("permission: already registered")
)

func init() {
	for _, rt := range allResourceTypes {
		for _, capability := range allCapabilities {
			_ = Register(&Definition{
				ResourceType: rt,
				Capability:   capability,
				Description:  fmt.Sprintf("%s access on %s resources", capability, rt),
			})
		}
	}
}

// Register adds a definition to the catalog. The code is derived from the resource
// type and capability, which must both be known.
func Register(def *Definition) error {
	if def == nil {
		return errNilDefinition
	}
	if _, err := ParseResourceType(string(def.ResourceType)); err != nil {
		return err
	}
	if _, err := ParseCapability(string(def.Capability)); err != nil {
		return err
	}

	entry := *def
	entry.Code = PermissionCode(def.ResourceType, def.Capability)
	entry.Description = strings.TrimSpace(entry.Description)

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.definitions[entry.Code]; exists {
		return fmt.Errorf("%w: %s", errDuplicateCode, entry.Code)
	}
	globalRegistry.definitions[entry.Code] = &entry
	return nil
}

// Get returns a copy of the definition registered under code.
func Get(code string) (*Definition, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	def, ok := globalRegistry.definitions[code]
	if !ok {
		return nil, false
	}
	cp := *def
	return &cp, true
}

// All returns every registered definition ordered by code.
func All() []Definition {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	out := make([]Definition, 0, len(globalRegistry.definitions))
	for _, def := range globalRegistry.definitions {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
