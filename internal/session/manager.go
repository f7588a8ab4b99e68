package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/meridianhq/tenantgate/internal/cookie"
	"github.com/meridianhq/tenantgate/internal/crypto"
	"github.com/meridianhq/tenantgate/internal/log"

	"github.com/google/uuid"
)

// sidKey is the cookie payload key pointing at a server-side session.
const sidKey = "sid"

// Manager reads and writes sessions with cookie write-through. Safe for
// concurrent use; each call operates on request-scoped data only.
type Manager struct {
	encryptor *crypto.Encryptor
	store     Store
	secure    bool
}

// NewManager builds a Manager. store may be nil, which selects the default
// encrypted-cookie behavior with no server-side state.
func NewManager(secret string, store Store, secure bool) (*Manager, error) {
	enc, err := crypto.NewEncryptor(secret)
	if err != nil {
		return nil, fmt.Errorf("session encryptor: %w", err)
	}
	return &Manager{encryptor: enc, store: store, secure: secure}, nil
}

// Get loads the session for the request. A missing or undecryptable cookie
// yields the empty unauthenticated session rather than an error, so routine
// cookie corruption or secret rotation never turns into a hard outage.
func (m *Manager) Get(ctx context.Context, r *http.Request) Data {
	value, err := cookie.GetSession(r)
	if err != nil {
		return Empty()
	}

	payload := m.encryptor.Decrypt(value)
	if len(payload) == 0 {
		return Empty()
	}

	if m.store != nil {
		sid, ok := payload[sidKey].(string)
		if !ok || sid == "" {
			return Empty()
		}
		data, found, err := m.store.Get(ctx, sid)
		if err != nil {
			log.LogErrorWithFields("session", "Session store read failed", map[string]any{
				"error": err.Error(),
			})
			return Empty()
		}
		if !found {
			return Empty()
		}
		return data
	}

	return FromMap(payload)
}

// Update re-encrypts the session and sets the session cookie, paired with
// the matching CSRF cookie. Used after initial login and after each refresh.
func (m *Manager) Update(ctx context.Context, w http.ResponseWriter, r *http.Request, data Data) error {
	if m.store != nil {
		sid := m.currentSID(r)
		if sid == "" {
			sid = uuid.NewString()
		}
		if err := m.store.Set(ctx, sid, data, cookie.SessionMaxAge); err != nil {
			return fmt.Errorf("writing session store: %w", err)
		}
		encrypted, err := m.encryptor.Encrypt(map[string]any{sidKey: sid})
		if err != nil {
			return fmt.Errorf("encrypting session reference: %w", err)
		}
		cookie.SetSession(w, encrypted, m.secure)
		m.setCSRF(w, data)
		return nil
	}

	payload, err := data.ToMap()
	if err != nil {
		return fmt.Errorf("serializing session: %w", err)
	}
	encrypted, err := m.encryptor.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("encrypting session: %w", err)
	}
	cookie.SetSession(w, encrypted, m.secure)
	m.setCSRF(w, data)
	return nil
}

// Delete clears the session and CSRF cookies and drops any server-side
// record.
func (m *Manager) Delete(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if m.store != nil {
		if sid := m.currentSID(r); sid != "" {
			if err := m.store.Delete(ctx, sid); err != nil {
				log.LogWarnWithFields("session", "Session store delete failed", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
	cookie.ClearSession(w)
	cookie.ClearCSRF(w)
}

// CreateCSRFToken generates a high-entropy hex token for double-submit
// verification.
func (m *Manager) CreateCSRFToken() (string, error) {
	return crypto.GenerateCSRFToken()
}

func (m *Manager) setCSRF(w http.ResponseWriter, data Data) {
	// The CSRF cookie must always mirror the token inside the session
	// cookie after a successful write.
	if data.CSRFToken != "" {
		cookie.SetCSRF(w, data.CSRFToken, m.secure)
	}
}

func (m *Manager) currentSID(r *http.Request) string {
	value, err := cookie.GetSession(r)
	if err != nil {
		return ""
	}
	payload := m.encryptor.Decrypt(value)
	sid, _ := payload[sidKey].(string)
	return sid
}
