package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// RoleSession is the role of tokens bound to one conversation session
	RoleSession = "session"
	// RoleOperator is the role of tokens that may change the shared API key
	RoleOperator = "operator"
)

// operatorSubject names the holder of operator tokens
const operatorSubject = "operator"

// DefaultTokenTTL is used when the issuer is created with a zero ttl
const DefaultTokenTTL = 24 * time.Hour

var (
	ErrMissingSecret = errors.New("JWT secret is required")
	ErrInvalidToken  = errors.New("invalid token")
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and validates session tokens with an HMAC secret
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an issuer. A zero ttl uses DefaultTokenTTL.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

// GenerateSessionToken issues a token that grants access to sessionID
func (i *Issuer) GenerateSessionToken(sessionID string) (string, time.Time, error) {
	return i.sign(RoleSession, sessionID, sessionID, i.ttl)
}

// GenerateOperatorToken issues a token for key management. A zero ttl uses
// the issuer's ttl.
func (i *Issuer) GenerateOperatorToken(ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = i.ttl
	}
	return i.sign(RoleOperator, "", operatorSubject, ttl)
}

func (i *Issuer) sign(role, sessionID, subject string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := &JWTClaims{
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (i *Issuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	switch claims.Role {
	case RoleSession:
		if claims.SessionID == "" {
			return nil, fmt.Errorf("%w: session token without a session", ErrInvalidToken)
		}
	case RoleOperator:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
