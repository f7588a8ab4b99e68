package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/tenantgate/internal/cookie"
)

func testData() Data {
	return Data{
		IsAuthenticated:  true,
		AccessToken:      "at-1",
		RefreshToken:     "rt-1",
		ExpiresAt:        1900000000000,
		UserID:           "user-1",
		TenantID:         "tenant-1",
		IdpName:          "okta",
		TenantDomainName: "acme",
		CSRFToken:        "aabbccdd",
		UserInfo:         map[string]any{"email": "user@acme.com"},
	}
}

// transfer copies the cookies a response set onto a fresh request, the way
// a browser would on the next call.
func transfer(t *testing.T, w *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		if c.MaxAge >= 0 {
			r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return r
}

func TestManagerCookieModeRoundTrip(t *testing.T) {
	m, err := NewManager("session-secret", nil, false)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, m.Update(t.Context(), w, r, testData()))

	got := m.Get(t.Context(), transfer(t, w))
	assert.Equal(t, testData(), got)
}

func TestManagerSetsSessionAndCSRFCookies(t *testing.T) {
	m, err := NewManager("session-secret", nil, false)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, m.Update(t.Context(), w, r, testData()))

	byName := map[string]*http.Cookie{}
	for _, c := range w.Result().Cookies() {
		byName[c.Name] = c
	}

	sess := byName[cookie.SessionCookie]
	require.NotNil(t, sess)
	assert.True(t, sess.HttpOnly)
	assert.Equal(t, int(cookie.SessionMaxAge.Seconds()), sess.MaxAge)

	csrf := byName[cookie.CSRFCookie]
	require.NotNil(t, csrf)
	assert.False(t, csrf.HttpOnly)
	assert.Equal(t, "aabbccdd", csrf.Value)
}

func TestManagerSkipsCSRFCookieWithoutToken(t *testing.T) {
	m, err := NewManager("session-secret", nil, false)
	require.NoError(t, err)

	data := testData()
	data.CSRFToken = ""

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, m.Update(t.Context(), w, r, data))

	for _, c := range w.Result().Cookies() {
		assert.NotEqual(t, cookie.CSRFCookie, c.Name)
	}
}

func TestManagerGetFailsOpen(t *testing.T) {
	m, err := NewManager("session-secret", nil, false)
	require.NoError(t, err)

	t.Run("no cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.Equal(t, Empty(), m.Get(t.Context(), r))
	})

	t.Run("garbage cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: "garbage"})
		assert.Equal(t, Empty(), m.Get(t.Context(), r))
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewManager("different-secret", nil, false)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		require.NoError(t, other.Update(t.Context(), w, r, testData()))

		assert.Equal(t, Empty(), m.Get(t.Context(), transfer(t, w)))
	})
}

func TestManagerDelete(t *testing.T) {
	m, err := NewManager("session-secret", nil, false)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	m.Delete(t.Context(), w, r)

	cleared := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared[c.Name] = true
		}
	}
	assert.True(t, cleared[cookie.SessionCookie])
	assert.True(t, cleared[cookie.CSRFCookie])
}

func TestManagerStoreModeRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	m, err := NewManager("session-secret", store, false)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, m.Update(t.Context(), w, r, testData()))

	got := m.Get(t.Context(), transfer(t, w))
	assert.Equal(t, testData(), got)
}

func TestManagerStoreModeKeepsTokensOutOfCookie(t *testing.T) {
	store := NewMemoryStore()
	m, err := NewManager("session-secret", store, false)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, m.Update(t.Context(), w, r, testData()))

	var sessionValue string
	for _, c := range w.Result().Cookies() {
		if c.Name == cookie.SessionCookie {
			sessionValue = c.Value
		}
	}
	require.NotEmpty(t, sessionValue)

	// The cookie payload is only a session ID reference.
	payload, err := m.encryptor.DecryptStrict(sessionValue)
	require.NoError(t, err)
	assert.Len(t, payload, 1)
	assert.NotEmpty(t, payload[sidKey])
}

func TestManagerStoreModeReusesSessionID(t *testing.T) {
	store := NewMemoryStore()
	m, err := NewManager("session-secret", store, false)
	require.NoError(t, err)

	w1 := httptest.NewRecorder()
	require.NoError(t, m.Update(t.Context(), w1, httptest.NewRequest(http.MethodGet, "/", nil), testData()))
	r2 := transfer(t, w1)

	updated := testData()
	updated.AccessToken = "at-2"
	w2 := httptest.NewRecorder()
	require.NoError(t, m.Update(t.Context(), w2, r2, updated))

	got := m.Get(t.Context(), transfer(t, w2))
	assert.Equal(t, "at-2", got.AccessToken)

	sid1 := sidOf(t, m, w1)
	sid2 := sidOf(t, m, w2)
	assert.Equal(t, sid1, sid2)
}

func TestManagerStoreModeDeleteDropsRecord(t *testing.T) {
	store := NewMemoryStore()
	m, err := NewManager("session-secret", store, false)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, m.Update(t.Context(), w, httptest.NewRequest(http.MethodGet, "/", nil), testData()))
	r := transfer(t, w)

	m.Delete(t.Context(), httptest.NewRecorder(), r)
	assert.Equal(t, Empty(), m.Get(t.Context(), r))
}

func TestToInitDataRedactsTokens(t *testing.T) {
	init := testData().ToInitData()

	assert.Equal(t, "user-1", init.UserID)
	assert.Equal(t, "tenant-1", init.TenantID)
	assert.Equal(t, true, init.Metadata["is_authenticated"])
	assert.NotContains(t, init.Metadata, "access_token")
	assert.NotContains(t, init.Metadata, "refresh_token")
	assert.NotContains(t, init.Metadata, "csrf_token")
}

func TestDataIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	d := Data{ExpiresAt: now.Add(-time.Second).UnixMilli()}
	assert.True(t, d.IsExpired(now))
	d.ExpiresAt = now.Add(time.Second).UnixMilli()
	assert.False(t, d.IsExpired(now))
}

func TestFromMapToleratesForeignPayload(t *testing.T) {
	d := FromMap(map[string]any{"unrelated": "value"})
	assert.Equal(t, Empty(), d)
	assert.False(t, d.IsAuthenticated)
}

func sidOf(t *testing.T, m *Manager, w *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == cookie.SessionCookie {
			payload, err := m.encryptor.DecryptStrict(c.Value)
			require.NoError(t, err)
			sid, _ := payload[sidKey].(string)
			return sid
		}
	}
	t.Fatal("no session cookie set")
	return ""
}
