package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueCookie(t *testing.T, m *Manager, user User) *http.Cookie {
	t.Helper()

	w := httptest.NewRecorder()
	require.NoError(t, m.Issue(w, user))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestManager_IssueAndRead_RoundTripsUser(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	user := User{Phone: "+15551234567", ProfileID: "AB12CD34"}

	cookie := issueCookie(t, m, user)
	assert.Equal(t, CookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.AddCookie(cookie)

	got, ok := m.Read(req)
	require.True(t, ok)
	assert.Equal(t, user, got)
}

func TestManager_Read_WhenNoCookie_ReturnsLoggedOut(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	req := httptest.NewRequest("GET", "/api/me", nil)
	_, ok := m.Read(req)
	assert.False(t, ok)
}

func TestManager_Read_WhenTampered_ReturnsLoggedOut(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	cookie := issueCookie(t, m, User{Phone: "+15551234567", ProfileID: "AB12CD34"})

	// Flip part of the signature segment.
	parts := strings.Split(cookie.Value, ".")
	require.Len(t, parts, 3)
	parts[2] = strings.Repeat("A", len(parts[2]))

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: strings.Join(parts, ".")})

	_, ok := m.Read(req)
	assert.False(t, ok)
}

func TestManager_Read_WhenDifferentSecret_ReturnsLoggedOut(t *testing.T) {
	issuer := NewManager("secret-one", time.Hour)
	reader := NewManager("secret-two", time.Hour)
	cookie := issueCookie(t, issuer, User{Phone: "+15551234567", ProfileID: "AB12CD34"})

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.AddCookie(cookie)

	_, ok := reader.Read(req)
	assert.False(t, ok)
}

func TestManager_Read_WhenExpired_ReturnsLoggedOut(t *testing.T) {
	m := NewManager("test-secret", time.Nanosecond)
	cookie := issueCookie(t, m, User{Phone: "+15551234567", ProfileID: "AB12CD34"})

	time.Sleep(10 * time.Millisecond)

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.AddCookie(cookie)

	_, ok := m.Read(req)
	assert.False(t, ok)
}

func TestManager_Clear_ExpiresCookie(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	w := httptest.NewRecorder()
	m.Clear(w)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.Empty(t, cookies[0].Value)
}
