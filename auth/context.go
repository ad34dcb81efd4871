package auth

// CallerContext is the resolved identity every engine operation receives.
// Role resolution happens at the edge (token verification); the engine
// trusts the role it is handed and never re-derives it from session state.
type CallerContext struct {
	UserID     string
	Role       Role
	ProviderID *string
}

// ProviderSide reports whether the caller acts on behalf of a provider
// organisation rather than as an end customer.
func (c CallerContext) ProviderSide() bool {
	switch c.Role {
	case RoleProviderAdmin, RoleDispatcher, RoleTech:
		return true
	default:
		return false
	}
}

// MemberOf reports whether the caller belongs to the given provider.
// A nil provider on either side never matches.
func (c CallerContext) MemberOf(providerID *string) bool {
	if c.ProviderID == nil || providerID == nil {
		return false
	}
	return *c.ProviderID == *providerID
}

// CanDispatch reports whether the caller may perform dispatch operations
// (technician assignment, claim-token issuance) for the given provider.
func (c CallerContext) CanDispatch(providerID *string) bool {
	if c.Role == RoleGlobalDispatch {
		return true
	}
	if c.Role != RoleProviderAdmin && c.Role != RoleDispatcher {
		return false
	}
	return c.MemberOf(providerID)
}
