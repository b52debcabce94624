// Package auth verifies the session tokens that identify signed-in users.
//
// Tokens are HS256 JWTs whose subject is the numeric user id. The web app
// signs them; this service only needs to verify, but can also mint tokens for
// operators and tests.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeSession is the typ claim of user session tokens.
const TokenTypeSession = "session"

// SessionTokenExpiry is the lifetime of tokens minted by GenerateSessionToken.
const SessionTokenExpiry = 24 * time.Hour

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidUserID is returned for non-positive user ids.
	ErrInvalidUserID = errors.New("user id must be positive")
)

// Claims are the JWT claims carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// UserID parses the subject as a user id.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("subject %q: %w", c.Subject, ErrInvalidToken)
	}
	if id <= 0 {
		return 0, ErrInvalidUserID
	}
	return id, nil
}

// JWTService signs and verifies session tokens.
// Supports dual-key rotation: tokens are signed with currentSecret,
// but can be validated with either currentSecret or previousSecret.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
	now            func() time.Time
}

// NewJWTService creates a JWTService. Set previousSecret to "" when no
// rotation is in progress.
func NewJWTService(currentSecret, previousSecret string) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
		now:           time.Now,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// WithLeeway returns a copy of the service using a custom clock skew leeway.
func (s *JWTService) WithLeeway(leeway time.Duration) *JWTService {
	cp := *s
	cp.leeway = leeway
	return &cp
}

// GenerateSessionToken mints a session token for userID that expires after ttl.
// A ttl of zero uses SessionTokenExpiry.
func (s *JWTService) GenerateSessionToken(userID int64, ttl time.Duration) (string, error) {
	if userID <= 0 {
		return "", ErrInvalidUserID
	}
	if ttl <= 0 {
		ttl = SessionTokenExpiry
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: TokenTypeSession,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateToken parses and validates a session token, returning its claims.
// It tries currentSecret first, then previousSecret if available.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.currentSecret)
	if err != nil && s.previousSecret != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		claims, err = s.parse(tokenString, s.previousSecret)
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.Type != TokenTypeSession {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
