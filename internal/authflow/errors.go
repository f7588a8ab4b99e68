package authflow

import (
	"errors"
	"fmt"
)

// Caller/input errors. Surfaced immediately, never retried.
var (
	ErrMissingState = errors.New("invalid or missing query parameter [state]")
	ErrMissingCode  = errors.New("invalid query parameter [code]")
)

// ProviderError is a fatal OAuth error reported by the identity service via
// callback query parameters. login_required is never wrapped in this type;
// it redirects back into a fresh login instead.
type ProviderError struct {
	ErrorCode   string
	Description string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("oauth error: %s. Description: %s", e.ErrorCode, e.Description)
}

// MissingTenantError means the callback request carried no resolvable tenant
// domain. This is fatal: without a tenant there is no login page to redirect
// back to.
type MissingTenantError struct {
	SubdomainMode bool
}

func (e *MissingTenantError) Error() string {
	if e.SubdomainMode {
		return "missing_tenant_subdomain: callback request URL is missing a tenant subdomain"
	}
	return "missing_tenant_domain: callback request is missing the [tenant_domain] parameter"
}
