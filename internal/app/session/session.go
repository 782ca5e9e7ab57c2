// Package session issues and reads the signed cookie that remembers a
// verified phone between requests. The cookie is a stateless HS256 JWT: no
// server-side session store, so restarts do not log anyone out.
package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chrismeisner/makethetake/internal/domain"
)

const CookieName = "mtt_session"

const DefaultTTL = 30 * 24 * time.Hour

// User is what the cookie carries: enough to attribute votes and render the
// logged-in state, nothing more.
type User struct {
	Phone     string           `json:"phone"`
	ProfileID domain.ProfileID `json:"profileID"`
}

type sessionClaims struct {
	Phone     string `json:"phone"`
	ProfileID string `json:"profileID"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Issue signs a session for user and sets the cookie on w.
func (m *Manager) Issue(w http.ResponseWriter, user User) error {
	now := time.Now().UTC()
	claims := sessionClaims{
		Phone:     user.Phone,
		ProfileID: string(user.ProfileID),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("session: sign: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Read returns the session user from r's cookie. ok is false for a missing,
// expired, or tampered cookie are all treated the same: not logged in.
func (m *Manager) Read(r *http.Request) (User, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return User{}, false
	}

	var claims sessionClaims
	token, err := jwt.ParseWithClaims(cookie.Value, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("session: unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return User{}, false
	}

	return User{
		Phone:     claims.Phone,
		ProfileID: domain.ProfileID(claims.ProfileID),
	}, true
}

// Clear expires the cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
