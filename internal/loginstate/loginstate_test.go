package loginstate

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/tenantgate/internal/cookie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("login-state-test-secret", false)
	require.NoError(t, err)
	return m
}

func TestCreate(t *testing.T) {
	m := newTestManager(t)
	r := httptest.NewRequest(http.MethodGet, "/api/auth/login?return_url=/dashboard", nil)

	ls, err := m.Create(r, "https://app.example.com/callback", map[string]string{"plan": "pro"})
	require.NoError(t, err)

	assert.Len(t, ls.State, 32)
	assert.Len(t, ls.CodeVerifier, 64)
	assert.Equal(t, "https://app.example.com/callback", ls.RedirectURI)
	assert.Equal(t, "/dashboard", ls.ReturnURL)
	assert.Equal(t, map[string]string{"plan": "pro"}, ls.CustomState)
}

func TestCreateWithoutReturnURL(t *testing.T) {
	m := newTestManager(t)
	r := httptest.NewRequest(http.MethodGet, "/api/auth/login", nil)

	ls, err := m.Create(r, "https://app.example.com/callback", nil)
	require.NoError(t, err)
	assert.Empty(t, ls.ReturnURL)
	assert.Nil(t, ls.CustomState)
}

func TestCreateRejectsDuplicateReturnURL(t *testing.T) {
	m := newTestManager(t)
	r := httptest.NewRequest(http.MethodGet, "/api/auth/login?return_url=/a&return_url=/b", nil)

	_, err := m.Create(r, "https://app.example.com/callback", nil)
	var dup ErrDuplicateParam
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "return_url", dup.Param)
}

func TestStoreRetrieveDecryptRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ls := LoginState{
		State:        "teststatevalue",
		CodeVerifier: "testverifiervalue",
		RedirectURI:  "https://app.example.com/callback",
		ReturnURL:    "/settings",
		CustomState:  map[string]string{"k": "v"},
	}

	w := httptest.NewRecorder()
	require.NoError(t, m.Store(w, ls))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	set := cookies[0]
	assert.True(t, strings.HasPrefix(set.Name, cookie.LoginStatePrefix+ls.State+cookie.LoginStateSeparator))
	assert.True(t, set.HttpOnly)
	assert.Equal(t, 3600, set.MaxAge)

	// Timestamp suffix must be parseable millis.
	parts := strings.Split(set.Name, cookie.LoginStateSeparator)
	require.Len(t, parts, 3)
	_, err := strconv.ParseInt(parts[2], 10, 64)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/auth/callback?state="+ls.State+"&code=abc", nil)
	r.AddCookie(&http.Cookie{Name: set.Name, Value: set.Value})

	name, ciphertext, ok := m.Retrieve(r)
	require.True(t, ok)
	assert.Equal(t, set.Name, name)

	decrypted, err := m.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, ls, decrypted)
}

func TestRetrieveIgnoresOtherStates(t *testing.T) {
	m := newTestManager(t)
	r := httptest.NewRequest(http.MethodGet, "/api/auth/callback?state=wanted", nil)
	r.AddCookie(&http.Cookie{Name: "login#other#1700000000000", Value: "x"})

	_, _, ok := m.Retrieve(r)
	assert.False(t, ok)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Decrypt("not-a-valid-token")
	assert.Error(t, err)
}

func TestDecryptRejectsIncompletePayload(t *testing.T) {
	m := newTestManager(t)

	// A payload missing the code verifier must not pass validation even if
	// it decrypts cleanly.
	ls := LoginState{State: "onlystate", RedirectURI: "https://x"}
	w := httptest.NewRecorder()
	require.NoError(t, m.Store(w, ls))

	_, err := m.Decrypt(w.Result().Cookies()[0].Value)
	assert.Error(t, err)
}

func TestDecryptRejectsWrongSecret(t *testing.T) {
	m := newTestManager(t)
	ls := LoginState{State: "s", CodeVerifier: "v", RedirectURI: "https://x"}
	w := httptest.NewRecorder()
	require.NoError(t, m.Store(w, ls))

	other, err := NewManager("a-different-secret", false)
	require.NoError(t, err)
	_, err = other.Decrypt(w.Result().Cookies()[0].Value)
	assert.Error(t, err)
}

func TestStoreRejectsOversizedState(t *testing.T) {
	m := newTestManager(t)
	ls := LoginState{
		State:        "bigstate",
		CodeVerifier: "verifier",
		RedirectURI:  "https://app.example.com/callback",
		ReturnURL:    strings.Repeat("x", 8192),
	}

	w := httptest.NewRecorder()
	err := m.Store(w, ls)
	require.ErrorIs(t, err, ErrTooLarge)
	assert.Empty(t, w.Result().Cookies())
}

func TestPruneKeepsTwoNewest(t *testing.T) {
	m := newTestManager(t)

	r := httptest.NewRequest(http.MethodGet, "/api/auth/login", nil)
	for i := range 4 {
		name := fmt.Sprintf("login#state%d#%d", i, 1700000000000+int64(i))
		r.AddCookie(&http.Cookie{Name: name, Value: "v"})
	}

	w := httptest.NewRecorder()
	m.Prune(r, w)

	cleared := clearedNames(w)
	assert.ElementsMatch(t, []string{"login#state0#1700000000000", "login#state1#1700000000001"}, cleared)
}

func TestPruneLeavesFewerThanThreeAlone(t *testing.T) {
	m := newTestManager(t)

	r := httptest.NewRequest(http.MethodGet, "/api/auth/login", nil)
	r.AddCookie(&http.Cookie{Name: "login#a#1700000000000", Value: "v"})
	r.AddCookie(&http.Cookie{Name: "login#b#1700000000001", Value: "v"})

	w := httptest.NewRecorder()
	m.Prune(r, w)
	assert.Empty(t, w.Result().Cookies())
}

func TestPruneClearsMalformedNames(t *testing.T) {
	m := newTestManager(t)

	r := httptest.NewRequest(http.MethodGet, "/api/auth/login", nil)
	r.AddCookie(&http.Cookie{Name: "login#missing-timestamp", Value: "v"})
	r.AddCookie(&http.Cookie{Name: "login#bad#not-a-number", Value: "v"})
	r.AddCookie(&http.Cookie{Name: "login#ok#1700000000000", Value: "v"})

	w := httptest.NewRecorder()
	m.Prune(r, w)

	cleared := clearedNames(w)
	assert.ElementsMatch(t, []string{"login#missing-timestamp", "login#bad#not-a-number"}, cleared)
}

func clearedNames(w *httptest.ResponseRecorder) []string {
	var names []string
	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			names = append(names, c.Name)
		}
	}
	return names
}
