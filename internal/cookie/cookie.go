package cookie

import (
	"net/http"
	"strings"
	"time"

	"github.com/meridianhq/tenantgate/internal/log"
)

// Cookie names used by tenantgate
const (
	SessionCookie = "session"
	CSRFCookie    = "CSRF-TOKEN"

	// Login-state cookies are named <prefix><state><sep><millis> so multiple
	// in-flight login attempts from one browser stay distinguishable.
	LoginStatePrefix    = "login#"
	LoginStateSeparator = "#"
)

// SessionMaxAge bounds how long a session cookie survives without a touch.
const SessionMaxAge = 30 * time.Minute

// SetSession sets the encrypted session cookie
func SetSession(w http.ResponseWriter, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(SessionMaxAge.Seconds()),
	})

	log.LogDebugWithFields("cookie", "Session cookie set", map[string]any{
		"maxAge": SessionMaxAge.String(),
		"secure": secure,
	})
}

// SetCSRF sets the CSRF double-submit cookie. It is deliberately not
// HttpOnly: client-side script reads the value and echoes it back in the
// X-CSRF-TOKEN header.
func SetCSRF(w http.ResponseWriter, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(SessionMaxAge.Seconds()),
	})
}

// SetLoginState sets one login-state cookie for an in-flight login attempt.
func SetLoginState(w http.ResponseWriter, name, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   3600,
	})
}

// Clear removes a cookie by overwriting it with an empty value and MaxAge=-1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// ClearSession removes the session cookie
func ClearSession(w http.ResponseWriter) {
	Clear(w, SessionCookie)
	log.LogDebugWithFields("cookie", "Session cookie cleared", nil)
}

// ClearCSRF removes the CSRF cookie
func ClearCSRF(w http.ResponseWriter) {
	Clear(w, CSRFCookie)
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// GetSession retrieves the session cookie value
func GetSession(r *http.Request) (string, error) {
	return Get(r, SessionCookie)
}

// GetCSRF retrieves the CSRF cookie value
func GetCSRF(r *http.Request) (string, error) {
	return Get(r, CSRFCookie)
}

// LoginStateCookies returns every login-state cookie on the request.
func LoginStateCookies(r *http.Request) []*http.Cookie {
	var matches []*http.Cookie
	for _, c := range r.Cookies() {
		if strings.HasPrefix(c.Name, LoginStatePrefix) {
			matches = append(matches, c)
		}
	}
	return matches
}
