// Package loginstate manages the short-lived state of in-flight login
// attempts. Each attempt round-trips through its own encrypted cookie so the
// server keeps no per-attempt memory; the cookie is consumed and discarded by
// the OAuth callback.
package loginstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meridianhq/tenantgate/internal/cookie"
	"github.com/meridianhq/tenantgate/internal/crypto"
)

// ErrTooLarge is returned when an encrypted login state would exceed the
// 4kB cookie safety margin.
var ErrTooLarge = errors.New("login state cookie exceeds 4kB in size")

// ErrDuplicateParam is returned when a query parameter that must be single
// valued is repeated.
type ErrDuplicateParam struct {
	Param string
}

func (e ErrDuplicateParam) Error() string {
	return fmt.Sprintf("more than one [%s] query parameter was encountered", e.Param)
}

// LoginState holds everything the callback needs to finish one login attempt.
type LoginState struct {
	State        string            `json:"state"`
	CodeVerifier string            `json:"code_verifier"`
	RedirectURI  string            `json:"redirect_uri"`
	ReturnURL    string            `json:"return_url,omitempty"`
	CustomState  map[string]string `json:"custom_state,omitempty"`
}

// Manager creates, persists, retrieves, and prunes login-state cookies.
// Safe for concurrent use; all state is request scoped.
type Manager struct {
	encryptor *crypto.Encryptor
	secure    bool
}

// NewManager builds a Manager around the login-state secret. Decryption
// failures here are fail-closed: a broken login-state cookie must force a
// fresh login, never silent continuation.
func NewManager(secret string, secure bool) (*Manager, error) {
	enc, err := crypto.NewEncryptor(secret)
	if err != nil {
		return nil, fmt.Errorf("login state encryptor: %w", err)
	}
	return &Manager{encryptor: enc, secure: secure}, nil
}

// Create generates a fresh LoginState for the request. The state value and
// PKCE code verifier come from a cryptographically secure source.
func (m *Manager) Create(r *http.Request, redirectURI string, customState map[string]string) (LoginState, error) {
	returnURLs := r.URL.Query()["return_url"]
	if len(returnURLs) > 1 {
		return LoginState{}, ErrDuplicateParam{Param: "return_url"}
	}
	var returnURL string
	if len(returnURLs) == 1 {
		returnURL = returnURLs[0]
	}

	state, err := crypto.RandomString(32)
	if err != nil {
		return LoginState{}, fmt.Errorf("generating state: %w", err)
	}
	verifier, err := crypto.RandomString(64)
	if err != nil {
		return LoginState{}, fmt.Errorf("generating code verifier: %w", err)
	}

	return LoginState{
		State:        state,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
		ReturnURL:    returnURL,
		CustomState:  customState,
	}, nil
}

// Store encrypts the login state and sets its cookie, named
// login#<state>#<creation millis>.
func (m *Manager) Store(w http.ResponseWriter, ls LoginState) error {
	payload := map[string]any{
		"state":         ls.State,
		"code_verifier": ls.CodeVerifier,
		"redirect_uri":  ls.RedirectURI,
	}
	if ls.ReturnURL != "" {
		payload["return_url"] = ls.ReturnURL
	}
	if ls.CustomState != nil {
		payload["custom_state"] = ls.CustomState
	}

	encrypted, err := m.encryptor.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("encrypting login state: %w", err)
	}
	if len(encrypted) > 4096 {
		return ErrTooLarge
	}

	name := cookie.LoginStatePrefix + ls.State + cookie.LoginStateSeparator +
		strconv.FormatInt(time.Now().UnixMilli(), 10)
	cookie.SetLoginState(w, name, encrypted, m.secure)
	return nil
}

// Prune bounds the number of retained login-state cookies. When three or
// more exist, only the two with the newest timestamp suffix survive; the
// rest are cleared so abandoned attempts cannot grow the cookie header
// without bound. Runs before each Store.
func (m *Manager) Prune(r *http.Request, w http.ResponseWriter) {
	existing := cookie.LoginStateCookies(r)
	if len(existing) < 3 {
		return
	}

	type stamped struct {
		name string
		ts   int64
	}
	stampedCookies := make([]stamped, 0, len(existing))
	for _, c := range existing {
		parts := strings.Split(c.Name, cookie.LoginStateSeparator)
		if len(parts) != 3 {
			// Malformed name, clear it outright.
			cookie.Clear(w, c.Name)
			continue
		}
		ts, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			cookie.Clear(w, c.Name)
			continue
		}
		stampedCookies = append(stampedCookies, stamped{name: c.Name, ts: ts})
	}

	sort.Slice(stampedCookies, func(i, j int) bool {
		return stampedCookies[i].ts > stampedCookies[j].ts
	})
	for _, sc := range stampedCookies[min(2, len(stampedCookies)):] {
		cookie.Clear(w, sc.name)
	}
}

// Retrieve finds the login-state cookie matching the incoming state query
// parameter. Matching on login#<state># keeps concurrent attempts from the
// same browser from confusing each other.
func (m *Manager) Retrieve(r *http.Request) (name, ciphertext string, ok bool) {
	state := r.URL.Query().Get("state")
	prefix := cookie.LoginStatePrefix + state + cookie.LoginStateSeparator
	for _, c := range r.Cookies() {
		if strings.HasPrefix(c.Name, prefix) {
			return c.Name, c.Value, true
		}
	}
	return "", "", false
}

// Decrypt is the inverse of Store. Unlike session cookies, failures here
// propagate to the caller.
func (m *Manager) Decrypt(ciphertext string) (LoginState, error) {
	payload, err := m.encryptor.DecryptStrict(ciphertext)
	if err != nil {
		return LoginState{}, fmt.Errorf("decrypting login state: %w", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return LoginState{}, fmt.Errorf("re-encoding login state: %w", err)
	}
	var ls LoginState
	if err := json.Unmarshal(raw, &ls); err != nil {
		return LoginState{}, fmt.Errorf("decoding login state: %w", err)
	}
	if ls.State == "" || ls.CodeVerifier == "" {
		return LoginState{}, fmt.Errorf("login state payload is incomplete")
	}
	return ls, nil
}

// Clear removes one consumed login-state cookie.
func (m *Manager) Clear(w http.ResponseWriter, name string) {
	cookie.Clear(w, name)
}
