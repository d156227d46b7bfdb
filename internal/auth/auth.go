// Package auth issues and validates the bearer tokens the HTTP boundary
// requires. A single operator credential is configured at boot.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcadmin/mc-admin/pkg/errs"
)

// Claims is the token payload
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service holds the signing secret and the operator credential
type Service struct {
	secret       []byte
	ttl          time.Duration
	username     string
	passwordHash []byte
}

func NewService(secret, username, passwordHash string, ttl time.Duration) *Service {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		secret:       []byte(secret),
		ttl:          ttl,
		username:     username,
		passwordHash: []byte(passwordHash),
	}
}

// Login verifies the operator credential and issues a token
func (s *Service) Login(username, password string) (string, error) {
	if len(s.passwordHash) == 0 {
		return "", errs.Validation("login is disabled, no ADMIN_PASSWORD_HASH configured")
	}
	if username != s.username {
		return "", errs.Validation("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", errs.Validation("invalid credentials")
	}

	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errs.Internal(err, "failed to sign token")
	}
	return token, nil
}

// ValidateToken parses and verifies a bearer token
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.Validation("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, errs.Validation("invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errs.Validation("invalid token claims")
	}
	return claims, nil
}

// HashPassword produces a bcrypt hash for ADMIN_PASSWORD_HASH
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
