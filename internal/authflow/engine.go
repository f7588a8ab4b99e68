// Package authflow orchestrates the Authorization-Code-with-PKCE flow
// against the identity service: login, callback, logout, and token refresh.
// The engine holds only immutable configuration; every method operates on
// request-scoped data and is safe to call from concurrent requests.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meridianhq/tenantgate/internal/idp"
	"github.com/meridianhq/tenantgate/internal/log"
	"github.com/meridianhq/tenantgate/internal/loginstate"
	"github.com/meridianhq/tenantgate/internal/tenant"
)

const (
	refreshAttempts = 3
	refreshBackoff  = 100 * time.Millisecond
)

// Config carries the immutable settings of one relying-party application.
type Config struct {
	ClientID                        string
	ClientSecret                    string
	LoginStateSecret                string
	LoginURL                        string
	RedirectURI                     string
	IdentityServiceDomain           string
	CustomApplicationLoginPageURL   string
	DangerouslyDisableSecureCookies bool
	RootDomain                      string
	Scopes                          []string
	UseCustomDomains                bool
	UseTenantSubdomains             bool
}

// LoginConfig tunes a single login call.
type LoginConfig struct {
	CustomState               map[string]string
	DefaultTenantCustomDomain string
	DefaultTenantDomain       string
}

// LogoutConfig tunes a single logout call.
type LogoutConfig struct {
	RedirectURL        string
	RefreshToken       string
	TenantCustomDomain string
	TenantDomainName   string
}

// TokenData is the outcome of a successful refresh.
type TokenData struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	// ExpiresAt is epoch milliseconds, always computed as now + expires_in.
	ExpiresAt int64
}

// CallbackData aggregates everything a completed callback produced.
type CallbackData struct {
	AccessToken        string
	IDToken            string
	ExpiresIn          int
	TenantDomainName   string
	UserInfo           map[string]any
	CustomState        map[string]string
	RefreshToken       string
	ReturnURL          string
	TenantCustomDomain string
}

// CallbackResultType tags the two possible callback outcomes.
type CallbackResultType int

const (
	// Completed means tokens were exchanged and a session can be created.
	Completed CallbackResultType = iota
	// RedirectRequired means the attempt cannot be verified and the browser
	// must re-enter the login flow at RedirectURL.
	RedirectRequired
)

// CallbackResult is the tagged union returned by Callback. There is no third
// variant; every other condition is an error.
type CallbackResult struct {
	Type        CallbackResultType
	Data        *CallbackData
	RedirectURL string
}

// Engine drives the OAuth flow. Construct once at startup with NewEngine.
type Engine struct {
	cfg         Config
	client      *idp.Client
	loginStates *loginstate.Manager
	tenants     *tenant.Resolver
	now         func() time.Time
	sleep       func(time.Duration)
}

// NewEngine builds an Engine from immutable configuration.
func NewEngine(cfg Config, client *idp.Client) (*Engine, error) {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "offline_access", "email"}
	}
	states, err := loginstate.NewManager(cfg.LoginStateSecret, !cfg.DangerouslyDisableSecureCookies)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:         cfg,
		client:      client,
		loginStates: states,
		tenants:     tenant.NewResolver(cfg.UseTenantSubdomains, cfg.RootDomain),
		now:         time.Now,
		sleep:       time.Sleep,
	}, nil
}

// Tenants exposes the engine's tenant resolver for callers that need to
// resolve domains outside the flow itself.
func (e *Engine) Tenants() *tenant.Resolver {
	return e.tenants
}

// Login starts a new login attempt: it resolves tenant signals, persists the
// login state in an encrypted cookie, and redirects the browser to the
// identity service's authorize endpoint.
func (e *Engine) Login(w http.ResponseWriter, r *http.Request, cfg LoginConfig) error {
	disableCaching(w)

	tenantCustomDomain, err := e.tenants.CustomDomain(r)
	if err != nil {
		return err
	}
	tenantDomainName, err := e.tenants.DomainName(r)
	if err != nil {
		return err
	}

	// No tenant signal anywhere: the best we can do is the app-level login
	// page. Terminal, no cookies written.
	if tenantCustomDomain == "" && tenantDomainName == "" &&
		cfg.DefaultTenantCustomDomain == "" && cfg.DefaultTenantDomain == "" {
		http.Redirect(w, r, e.appLoginURL(), http.StatusFound)
		return nil
	}

	ls, err := e.loginStates.Create(r, e.cfg.RedirectURI, cfg.CustomState)
	if err != nil {
		return err
	}

	authorizeURL, err := e.buildAuthorizeURL(r, ls, tenantCustomDomain, tenantDomainName,
		cfg.DefaultTenantCustomDomain, cfg.DefaultTenantDomain)
	if err != nil {
		return err
	}

	e.loginStates.Prune(r, w)
	if err := e.loginStates.Store(w, ls); err != nil {
		return err
	}

	log.LogDebugWithFields("authflow", "Redirecting to authorize endpoint", map[string]any{
		"tenant_domain": tenantDomainName,
		"custom_domain": tenantCustomDomain,
	})
	http.Redirect(w, r, authorizeURL, http.StatusFound)
	return nil
}

// Callback validates the authorize callback and classifies the outcome.
// Recoverable protocol-state failures (missing cookie, bad decrypt, state
// mismatch, login_required) return RedirectRequired; everything else is an
// error.
func (e *Engine) Callback(ctx context.Context, r *http.Request) (CallbackResult, error) {
	query := r.URL.Query()

	states := query["state"]
	if len(states) != 1 || states[0] == "" {
		return CallbackResult{}, ErrMissingState
	}
	paramState := states[0]

	code, err := singleValue(query, "code")
	if err != nil {
		return CallbackResult{}, err
	}
	errorParam, err := singleValue(query, "error")
	if err != nil {
		return CallbackResult{}, err
	}
	errorDescription, err := singleValue(query, "error_description")
	if err != nil {
		return CallbackResult{}, err
	}
	tenantCustomDomainParam, err := e.tenants.CustomDomain(r)
	if err != nil {
		return CallbackResult{}, err
	}

	resolvedTenantDomain, err := e.tenants.DomainName(r)
	if err != nil {
		return CallbackResult{}, err
	}
	if resolvedTenantDomain == "" {
		return CallbackResult{}, &MissingTenantError{SubdomainMode: e.cfg.UseTenantSubdomains}
	}

	// Precompute the return-to-login target used by every recoverable
	// failure branch below.
	tenantLoginURL := e.tenantLoginURL(resolvedTenantDomain, tenantCustomDomainParam)
	redirectRequired := CallbackResult{Type: RedirectRequired, RedirectURL: tenantLoginURL}

	_, ciphertext, ok := e.loginStates.Retrieve(r)
	if !ok {
		return redirectRequired, nil
	}
	ls, err := e.loginStates.Decrypt(ciphertext)
	if err != nil {
		log.LogWarnWithFields("authflow", "Login state cookie failed to decrypt", map[string]any{
			"error": err.Error(),
		})
		return redirectRequired, nil
	}
	if ls.State != paramState {
		return redirectRequired, nil
	}

	if errorParam != "" {
		if strings.EqualFold(errorParam, "login_required") {
			return redirectRequired, nil
		}
		return CallbackResult{}, &ProviderError{ErrorCode: errorParam, Description: errorDescription}
	}

	if code == "" {
		return CallbackResult{}, ErrMissingCode
	}

	tokens, err := e.client.GetTokens(ctx, code, ls.RedirectURI, ls.CodeVerifier)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("token exchange failed: %w", err)
	}
	userinfo, err := e.client.GetUserinfo(ctx, tokens.AccessToken)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("userinfo fetch failed: %w", err)
	}

	return CallbackResult{
		Type: Completed,
		Data: &CallbackData{
			AccessToken:        tokens.AccessToken,
			IDToken:            tokens.IDToken,
			ExpiresIn:          tokens.ExpiresIn,
			TenantDomainName:   resolvedTenantDomain,
			UserInfo:           userinfo,
			CustomState:        ls.CustomState,
			RefreshToken:       tokens.RefreshToken,
			ReturnURL:          ls.ReturnURL,
			TenantCustomDomain: tenantCustomDomainParam,
		},
	}, nil
}

// CompleteCallback writes the response that sends the browser onward after a
// COMPLETED callback. The consumed login-state cookie is cleared here:
// login states are strictly one-time use.
func (e *Engine) CompleteCallback(w http.ResponseWriter, r *http.Request, redirectURL string) error {
	if redirectURL == "" {
		return errors.New("redirect URL cannot be empty")
	}
	disableCaching(w)
	if name, _, ok := e.loginStates.Retrieve(r); ok {
		e.loginStates.Clear(w, name)
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
	return nil
}

// RedirectToLogin writes a redirect into a fresh login, used for
// RedirectRequired callback results.
func (e *Engine) RedirectToLogin(w http.ResponseWriter, r *http.Request, loginURL string) {
	disableCaching(w)
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// Logout best-effort revokes the refresh token and redirects the browser to
// the identity service's logout endpoint, falling back to the app-level
// login page when no tenant can be determined.
func (e *Engine) Logout(w http.ResponseWriter, r *http.Request, cfg LogoutConfig) {
	disableCaching(w)

	if cfg.RefreshToken != "" {
		if err := e.client.RevokeRefreshToken(r.Context(), cfg.RefreshToken); err != nil {
			// Revocation failure never blocks logout.
			log.LogWarnWithFields("authflow", "Revoking refresh token failed during logout", map[string]any{
				"error": err.Error(),
			})
		}
	}

	query := url.Values{"client_id": {e.cfg.ClientID}}
	if cfg.RedirectURL != "" {
		query.Set("redirect_url", cfg.RedirectURL)
	}

	host := r.Host
	tenantDomainName := cfg.TenantDomainName

	if cfg.TenantCustomDomain == "" {
		if e.cfg.UseTenantSubdomains && e.tenants.ParseSubdomain(host) == "" {
			http.Redirect(w, r, e.appLoginURL()+"?client_id="+url.QueryEscape(e.cfg.ClientID), http.StatusFound)
			return
		}
		if !e.cfg.UseTenantSubdomains && tenantDomainName == "" {
			http.Redirect(w, r, e.appLoginURL()+"?client_id="+url.QueryEscape(e.cfg.ClientID), http.StatusFound)
			return
		}
	}

	if e.cfg.UseTenantSubdomains {
		tenantDomainName = e.tenants.ParseSubdomain(host)
	}

	domain := cfg.TenantCustomDomain
	if domain == "" {
		domain = tenantDomainName + e.domainSeparator() + e.cfg.IdentityServiceDomain
	}

	http.Redirect(w, r, fmt.Sprintf("https://%s/api/v1/logout?%s", domain, query.Encode()), http.StatusFound)
}

// RefreshTokenIfExpired refreshes the access token when it has expired.
// Returns nil with no network call while the token is still valid; callers
// must only write back a new cookie on a non-nil result.
func (e *Engine) RefreshTokenIfExpired(ctx context.Context, refreshToken string, expiresAt int64) (*TokenData, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token must be a valid string")
	}
	if expiresAt <= 0 {
		return nil, errors.New("the expiresAt field must be an integer greater than 0")
	}

	if expiresAt >= e.now().UnixMilli() {
		return nil, nil
	}

	for attempt := 1; attempt <= refreshAttempts; attempt++ {
		tokens, err := e.client.RefreshToken(ctx, refreshToken)
		if err == nil {
			return &TokenData{
				AccessToken:  tokens.AccessToken,
				IDToken:      tokens.IDToken,
				RefreshToken: tokens.RefreshToken,
				ExpiresAt:    e.now().Add(time.Duration(tokens.ExpiresIn) * time.Second).UnixMilli(),
			}, nil
		}

		var statusErr *idp.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			description := statusErr.Description
			if description == "" {
				description = "Invalid Refresh Token"
			}
			return nil, &idp.Error{Code: idp.CodeInvalidRefreshToken, Description: description}
		}

		if attempt == refreshAttempts {
			log.LogErrorWithFields("authflow", "Token refresh failed after retries", map[string]any{
				"attempts": attempt,
				"error":    err.Error(),
			})
			return nil, &idp.Error{Code: idp.CodeUnexpectedError, Description: "Unexpected Error"}
		}
		e.sleep(refreshBackoff)
	}

	// Unreachable; the loop always returns.
	return nil, &idp.Error{Code: idp.CodeUnexpectedError, Description: "Unexpected Error"}
}

// IsExpired reports whether an epoch-millisecond expiry is in the past.
func (e *Engine) IsExpired(expiresAt int64) bool {
	return expiresAt < e.now().UnixMilli()
}

// appLoginURL is the application-level fallback login page.
func (e *Engine) appLoginURL() string {
	if e.cfg.CustomApplicationLoginPageURL != "" {
		return e.cfg.CustomApplicationLoginPageURL
	}
	return fmt.Sprintf("https://%s/login", e.cfg.IdentityServiceDomain)
}

// tenantLoginURL builds the tenant-scoped login URL used when the browser
// must re-enter the flow.
func (e *Engine) tenantLoginURL(tenantDomainName, tenantCustomDomain string) string {
	var loginURL string
	if e.cfg.UseTenantSubdomains {
		loginURL = strings.ReplaceAll(e.cfg.LoginURL, "{tenant_domain}", tenantDomainName)
	} else {
		loginURL = e.cfg.LoginURL + "?tenant_domain=" + url.QueryEscape(tenantDomainName)
	}
	if tenantCustomDomain != "" {
		connector := "?"
		if strings.Contains(loginURL, "?") {
			connector = "&"
		}
		loginURL += connector + "tenant_custom_domain=" + url.QueryEscape(tenantCustomDomain)
	}
	return loginURL
}

func (e *Engine) domainSeparator() string {
	if e.cfg.UseCustomDomains {
		return "."
	}
	return "-"
}

func singleValue(query url.Values, key string) (string, error) {
	values := query[key]
	if len(values) > 1 {
		return "", tenant.ErrDuplicateParam{Param: key}
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return "", nil
}

// disableCaching marks a response uncacheable. Every response this engine
// produces carries these headers.
func disableCaching(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
