package permissions

// RoleTemplate describes a built-in role seeded at tenant bootstrap.
type RoleTemplate struct {
	Code        string
	Name        string
	Kind        RoleKind
	Description string
	Permissions []PermissionRef
}

var contentTypes = []ResourceType{ResourceKnowledgeBase, ResourceDocument, ResourceModel}

// SystemRoles returns the built-in role set. Codes equal kinds so that grants
// can refer to them by their tier name.
func SystemRoles() []RoleTemplate {
	return []RoleTemplate{
		{
			Code:        string(KindSuperAdmin),
			Name:        "Super Administrator",
			Kind:        KindSuperAdmin,
			Description: "Unrestricted access across the tenant",
			Permissions: grid(allResourceTypes, allCapabilities...),
		},
		{
			Code:        string(KindAdmin),
			Name:        "Administrator",
			Kind:        KindAdmin,
			Description: "Manages every resource and grant in the tenant",
			Permissions: grid(allResourceTypes, allCapabilities...),
		},
		{
			Code:        string(KindEditor),
			Name:        "Editor",
			Kind:        KindEditor,
			Description: "Reads, edits and shares content",
			Permissions: grid(contentTypes, CapabilityRead, CapabilityWrite, CapabilityShare, CapabilityExport),
		},
		{
			Code:        string(KindViewer),
			Name:        "Viewer",
			Kind:        KindViewer,
			Description: "Reads and exports content",
			Permissions: grid(contentTypes, CapabilityRead, CapabilityExport),
		},
		{
			Code:        string(KindUser),
			Name:        "User",
			Kind:        KindUser,
			Description: "Creates knowledge bases and uses models",
			Permissions: []PermissionRef{
				{ResourceType: ResourceKnowledgeBase, Capability: CapabilityRead},
				{ResourceType: ResourceKnowledgeBase, Capability: CapabilityWrite},
				{ResourceType: ResourceModel, Capability: CapabilityRead},
			},
		},
		{
			Code:        string(KindGuest),
			Name:        "Guest",
			Kind:        KindGuest,
			Description: "Read-only access to shared resources",
			Permissions: grid([]ResourceType{ResourceKnowledgeBase, ResourceDocument}, CapabilityRead),
		},
	}
}

func grid(types []ResourceType, capabilities ...Capability) []PermissionRef {
	out := make([]PermissionRef, 0, len(types)*len(capabilities))
	for _, rt := range types {
		for _, capability := range capabilities {
			out = append(out, PermissionRef{ResourceType: rt, Capability: capability})
		}
	}
	return out
}
