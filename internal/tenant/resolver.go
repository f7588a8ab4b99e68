// Package tenant determines which tenant a login or callback request belongs
// to, either from the request host (subdomain tenancy) or from query
// parameters.
package tenant

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrDuplicateParam reports a repeated single-valued query parameter.
type ErrDuplicateParam struct {
	Param string
}

func (e ErrDuplicateParam) Error() string {
	return fmt.Sprintf("more than one [%s] query parameter was encountered", e.Param)
}

// Resolver reads tenant signals from requests. Config fields are read-only
// after construction.
type Resolver struct {
	useSubdomains bool
	rootDomain    string
}

// NewResolver builds a Resolver. rootDomain is only consulted when
// useSubdomains is set.
func NewResolver(useSubdomains bool, rootDomain string) *Resolver {
	return &Resolver{useSubdomains: useSubdomains, rootDomain: rootDomain}
}

// DomainName resolves the tenant domain name for the request. Under
// subdomain tenancy the host must end in the configured root domain and
// carry a non-empty subdomain; otherwise the tenant_domain query parameter
// is used. An empty string means no tenant signal was present.
func (r *Resolver) DomainName(req *http.Request) (string, error) {
	if r.useSubdomains {
		return r.parseSubdomain(req.Host), nil
	}

	values := req.URL.Query()["tenant_domain"]
	if len(values) > 1 {
		return "", ErrDuplicateParam{Param: "tenant_domain"}
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return "", nil
}

// CustomDomain resolves the optional tenant_custom_domain query parameter
// verbatim.
func (r *Resolver) CustomDomain(req *http.Request) (string, error) {
	values := req.URL.Query()["tenant_custom_domain"]
	if len(values) > 1 {
		return "", ErrDuplicateParam{Param: "tenant_custom_domain"}
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return "", nil
}

// UseSubdomains reports whether subdomain tenancy is in effect.
func (r *Resolver) UseSubdomains() bool {
	return r.useSubdomains
}

// RootDomain returns the configured root domain suffix.
func (r *Resolver) RootDomain() string {
	return r.rootDomain
}

// ParseSubdomain derives a tenant subdomain from a bare host value, for
// callers that are not holding a request.
func (r *Resolver) ParseSubdomain(host string) string {
	return r.parseSubdomain(host)
}

func (r *Resolver) parseSubdomain(host string) string {
	if r.rootDomain == "" || !strings.HasSuffix(host, r.rootDomain) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSuffix(host, r.rootDomain), ".")
}
