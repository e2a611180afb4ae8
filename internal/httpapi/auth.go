package httpapi

import (
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/xid"
)

var (
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrSessionRevoked = errors.New("session ended")
)

// AuthManager issues signed access tokens for server-side sessions. A token
// is only honoured while its session is still registered, so logout takes
// effect before the token expires.
type AuthManager struct {
	mu       sync.RWMutex
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
	sessions map[string]domain.Session
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	ShopID string      `json:"shop_id"`
	Role   domain.Role `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]domain.Session),
	}
}

// Issue registers a new session for a verified identity and signs its token.
func (a *AuthManager) Issue(identity domain.Session) (domain.LoginResponse, error) {
	now := a.now()
	session := identity
	session.ID = xid.New("sess")
	session.CreatedAt = now
	session.ExpiresAt = now.Add(a.tokenTTL)

	token, err := a.sign(session)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	a.mu.Lock()
	a.sessions[session.ID] = session
	a.mu.Unlock()

	return domain.LoginResponse{
		AccessToken: token,
		Session:     session,
		ExpiresAt:   session.ExpiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Session, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return domain.Session{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Session{}, ErrInvalidToken
	}

	a.mu.RLock()
	session, ok := a.sessions[sub]
	a.mu.RUnlock()
	if !ok {
		return domain.Session{}, ErrSessionRevoked
	}
	if session.ShopID != claims.ShopID || session.Role != claims.Role || !a.now().Before(session.ExpiresAt) {
		return domain.Session{}, ErrInvalidToken
	}
	return session, nil
}

// Revoke ends a session. It reports whether the session was live.
func (a *AuthManager) Revoke(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	return ok
}

// RevokeStaff ends every session held by a staff member.
func (a *AuthManager) RevokeStaff(staffID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ended := make([]string, 0)
	for id, session := range a.sessions {
		if session.StaffID == staffID && staffID != "" {
			delete(a.sessions, id)
			ended = append(ended, id)
		}
	}
	return ended
}

// PurgeExpired forgets sessions past their expiry and returns their ids so
// per-session state can be released with them.
func (a *AuthManager) PurgeExpired() []string {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	expired := make([]string, 0)
	for id, session := range a.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(a.sessions, id)
			expired = append(expired, id)
		}
	}
	return expired
}

func (a *AuthManager) sign(session domain.Session) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   session.ID,
			IssuedAt:  jwtlib.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwtlib.NewNumericDate(session.ExpiresAt),
			Issuer:    "tallyra",
		},
		ShopID: session.ShopID,
		Role:   session.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func bearerToken(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authorization[len("Bearer "):])
	return token, token != ""
}
