package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const sessionIssuer = "sheetflow"

// Sessions issues and validates signed session tokens. Sign-out revokes the
// token id until its natural expiry, so a revoked token fails validation even
// though the signature still checks out.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
		revoked: map[string]time.Time{},
	}, nil
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Issue signs a session token for the user and returns it with its expiry.
func (s *Sessions) Issue(userID, email string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, fmt.Errorf("user id is required")
	}
	now := s.now()
	expires := now.Add(s.ttl)
	claims := sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expires, nil
}

// Validate checks signature, expiry, issuer and the revocation list.
func (s *Sessions) Validate(token string) (Identity, error) {
	claims, err := s.parse(token)
	if err != nil {
		return Identity{}, err
	}
	if s.isRevoked(claims.ID) {
		return Identity{}, fmt.Errorf("session is revoked")
	}
	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// Revoke invalidates a still-valid token. Revoking an expired or malformed
// token reports the parse error.
func (s *Sessions) Revoke(token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	expires := s.now().Add(s.ttl)
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.revoked[claims.ID] = expires
	return nil
}

func (s *Sessions) parse(token string) (*sessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid session claims")
	}
	if strings.TrimSpace(claims.ID) == "" {
		return nil, fmt.Errorf("session token is missing id")
	}
	return claims, nil
}

func (s *Sessions) isRevoked(tokenID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	_, revoked := s.revoked[tokenID]
	return revoked
}

func (s *Sessions) pruneLocked() {
	now := s.now()
	for id, expires := range s.revoked {
		if expires.Before(now) {
			delete(s.revoked, id)
		}
	}
}
