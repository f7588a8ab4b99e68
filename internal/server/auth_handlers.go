package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/meridianhq/tenantgate/internal/authflow"
	"github.com/meridianhq/tenantgate/internal/idp"
	"github.com/meridianhq/tenantgate/internal/jsonwriter"
	"github.com/meridianhq/tenantgate/internal/log"
	"github.com/meridianhq/tenantgate/internal/loginstate"
	"github.com/meridianhq/tenantgate/internal/session"
	"github.com/meridianhq/tenantgate/internal/tenant"
)

// AuthHandlers serves the inbound auth surface: login, callback, logout,
// session, and token.
type AuthHandlers struct {
	engine   *authflow.Engine
	sessions *session.Manager
	homeURL  string
}

// NewAuthHandlers wires the flow engine and session manager into HTTP
// handlers.
func NewAuthHandlers(engine *authflow.Engine, sessions *session.Manager, homeURL string) *AuthHandlers {
	return &AuthHandlers{
		engine:   engine,
		sessions: sessions,
		homeURL:  homeURL,
	}
}

// LoginHandler starts a login attempt.
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Login(w, r, authflow.LoginConfig{}); err != nil {
		var tenantDup tenant.ErrDuplicateParam
		var stateDup loginstate.ErrDuplicateParam
		if errors.As(err, &tenantDup) || errors.As(err, &stateDup) {
			jsonwriter.WriteBadRequest(w, err.Error())
			return
		}
		log.LogError("Login failed: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
	}
}

// CallbackHandler finishes a login attempt: it classifies the callback,
// creates the session on a completed flow, and sends the browser home.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Callback(r.Context(), r)
	if err != nil {
		h.writeCallbackError(w, err)
		return
	}

	if result.Type == authflow.RedirectRequired {
		h.engine.RedirectToLogin(w, r, result.RedirectURL)
		return
	}

	data, err := h.sessionFromCallback(result.Data)
	if err != nil {
		log.LogError("Building session from callback failed: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}

	if err := h.sessions.Update(r.Context(), w, r, data); err != nil {
		log.LogError("Persisting session failed: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}

	target := h.homeURL
	if result.Data.ReturnURL != "" {
		target = result.Data.ReturnURL
	}
	if err := h.engine.CompleteCallback(w, r, target); err != nil {
		log.LogError("Callback redirect failed: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
	}
}

// LogoutHandler destroys the session and redirects to the identity
// service's logout endpoint.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	data := h.sessions.Get(r.Context(), r)

	h.sessions.Delete(r.Context(), w, r)
	h.engine.Logout(w, r, authflow.LogoutConfig{
		RedirectURL:        h.homeURL,
		RefreshToken:       data.RefreshToken,
		TenantCustomDomain: data.TenantCustomDomain,
		TenantDomainName:   data.TenantDomainName,
	})
}

// SessionHandler returns the redacted session summary for client-side
// bootstrapping. The request gate has already validated and refreshed the
// session.
func (h *AuthHandlers) SessionHandler(w http.ResponseWriter, r *http.Request) {
	data, ok := SessionFromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "No session found")
		return
	}
	_ = jsonwriter.Write(w, data.ToInitData())
}

// TokenHandler returns the current access token and its expiry for API
// callers that talk to the identity service directly.
func (h *AuthHandlers) TokenHandler(w http.ResponseWriter, r *http.Request) {
	data, ok := SessionFromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "No session found")
		return
	}
	_ = jsonwriter.Write(w, map[string]any{
		"access_token": data.AccessToken,
		"expires_at":   data.ExpiresAt,
	})
}

func (h *AuthHandlers) sessionFromCallback(cb *authflow.CallbackData) (session.Data, error) {
	csrfToken, err := h.sessions.CreateCSRFToken()
	if err != nil {
		return session.Empty(), err
	}

	data := session.Data{
		IsAuthenticated:    true,
		AccessToken:        cb.AccessToken,
		RefreshToken:       cb.RefreshToken,
		ExpiresAt:          time.Now().Add(time.Duration(cb.ExpiresIn) * time.Second).UnixMilli(),
		TenantDomainName:   cb.TenantDomainName,
		TenantCustomDomain: cb.TenantCustomDomain,
		UserInfo:           cb.UserInfo,
		CSRFToken:          csrfToken,
	}

	if sub, ok := cb.UserInfo["sub"].(string); ok {
		data.UserID = sub
	}
	if tnt, ok := cb.UserInfo["tnt_id"].(string); ok {
		data.TenantID = tnt
	}
	if idpName, ok := cb.UserInfo["idp_name"].(string); ok {
		data.IdpName = idpName
	}

	// Fill any gaps from the ID token claims.
	if cb.IDToken != "" && (data.UserID == "" || data.TenantID == "" || data.IdpName == "") {
		claims, err := idp.ParseIDTokenClaims(cb.IDToken)
		if err != nil {
			log.LogWarn("ID token claims unavailable: %v", err)
		} else {
			if data.UserID == "" {
				data.UserID = claims.Subject
			}
			if data.TenantID == "" {
				data.TenantID = claims.TenantID
			}
			if data.IdpName == "" {
				data.IdpName = claims.IdpName
			}
		}
	}

	return data, nil
}

func (h *AuthHandlers) writeCallbackError(w http.ResponseWriter, err error) {
	var dup tenant.ErrDuplicateParam
	var missingTenant *authflow.MissingTenantError
	var providerErr *authflow.ProviderError

	switch {
	case errors.Is(err, authflow.ErrMissingState), errors.Is(err, authflow.ErrMissingCode), errors.As(err, &dup):
		jsonwriter.WriteBadRequest(w, err.Error())
	case errors.As(err, &missingTenant):
		jsonwriter.WriteBadRequest(w, err.Error())
	case errors.As(err, &providerErr):
		log.LogError("Identity service reported an OAuth error: %v", err)
		jsonwriter.WriteError(w, http.StatusBadGateway, "oauth_error", err.Error())
	default:
		log.LogError("Callback failed: %v", err)
		jsonwriter.WriteError(w, http.StatusBadGateway, "callback_failed", "Callback processing failed")
	}
}
