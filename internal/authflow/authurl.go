package authflow

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/meridianhq/tenantgate/internal/crypto"
	"github.com/meridianhq/tenantgate/internal/loginstate"
	"github.com/meridianhq/tenantgate/internal/tenant"

	"golang.org/x/oauth2"
)

// buildAuthorizeURL assembles the identity service's authorize endpoint URL
// for one login attempt. Domain selection priority: explicit tenant custom
// domain, then tenant subdomain-composed domain, then the caller's default
// custom domain, then the default subdomain-composed domain.
func (e *Engine) buildAuthorizeURL(
	r *http.Request,
	ls loginstate.LoginState,
	tenantCustomDomain string,
	tenantDomainName string,
	defaultTenantCustomDomain string,
	defaultTenantDomainName string,
) (string, error) {
	loginHints := r.URL.Query()["login_hint"]
	if len(loginHints) > 1 {
		return "", tenant.ErrDuplicateParam{Param: "login_hint"}
	}

	nonce, err := crypto.RandomString(32)
	if err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	query := url.Values{
		"client_id":             {e.cfg.ClientID},
		"redirect_uri":          {ls.RedirectURI},
		"response_type":         {"code"},
		"state":                 {ls.State},
		"scope":                 {strings.Join(e.cfg.Scopes, " ")},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(ls.CodeVerifier)},
		"code_challenge_method": {"S256"},
		"nonce":                 {nonce},
	}
	if len(loginHints) == 1 && loginHints[0] != "" {
		query.Set("login_hint", loginHints[0])
	}

	var domain string
	switch {
	case tenantCustomDomain != "":
		domain = tenantCustomDomain
	case tenantDomainName != "":
		domain = tenantDomainName + e.domainSeparator() + e.cfg.IdentityServiceDomain
	case defaultTenantCustomDomain != "":
		domain = defaultTenantCustomDomain
	default:
		domain = defaultTenantDomainName + e.domainSeparator() + e.cfg.IdentityServiceDomain
	}

	return fmt.Sprintf("https://%s/api/v1/oauth2/authorize?%s", domain, query.Encode()), nil
}
