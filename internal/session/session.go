// Package session maps the encrypted session cookie to a typed session
// record and manages its lifecycle, including the CSRF double-submit token.
//
// By default all session state lives in the cookie itself; the server keeps
// nothing. A pluggable Store lets deployments opt into server-side sessions,
// in which case the cookie only carries an opaque session ID.
package session

import (
	"encoding/json"
	"time"
)

// Data is the typed session record serialized into the session cookie.
type Data struct {
	IsAuthenticated bool   `json:"is_authenticated"`
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	// ExpiresAt is the absolute access token expiry in epoch milliseconds.
	ExpiresAt          int64          `json:"expires_at"`
	UserID             string         `json:"user_id"`
	TenantID           string         `json:"tenant_id"`
	IdpName            string         `json:"idp_name"`
	TenantDomainName   string         `json:"tenant_domain_name"`
	TenantCustomDomain string         `json:"tenant_custom_domain"`
	CSRFToken          string         `json:"csrf_token"`
	UserInfo           map[string]any `json:"user_info,omitempty"`
}

// Empty returns an unauthenticated zero session.
func Empty() Data {
	return Data{}
}

// IsExpired reports whether the access token expiry has passed.
func (d Data) IsExpired(now time.Time) bool {
	return d.ExpiresAt < now.UnixMilli()
}

// ToMap converts the session to the flat mapping the cookie encryptor
// expects.
func (d Data) ToMap() (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromMap converts a decrypted cookie payload back to a session. A payload
// that does not look like a session yields the empty session.
func FromMap(payload map[string]any) Data {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Empty()
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return Empty()
	}
	return d
}

// InitData is the redacted shape returned by the /session endpoint for
// client-side bootstrapping.
type InitData struct {
	UserID   string         `json:"userId"`
	TenantID string         `json:"tenantId"`
	Metadata map[string]any `json:"metadata"`
}

// ToInitData builds the session-init payload with bearer credentials
// stripped out.
func (d Data) ToInitData() InitData {
	metadata := map[string]any{
		"is_authenticated":     d.IsAuthenticated,
		"expires_at":           d.ExpiresAt,
		"tenant_domain_name":   d.TenantDomainName,
		"tenant_custom_domain": d.TenantCustomDomain,
		"idp_name":             d.IdpName,
		"user_info":            d.UserInfo,
	}
	return InitData{
		UserID:   d.UserID,
		TenantID: d.TenantID,
		Metadata: metadata,
	}
}
