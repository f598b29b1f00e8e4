package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewIssuer(t *testing.T) {
	if _, err := NewIssuer("", time.Hour); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("Expected ErrMissingSecret, got %v", err)
	}

	issuer, err := NewIssuer("secret", 0)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	if issuer.ttl != DefaultTokenTTL {
		t.Errorf("Expected default ttl %v, got %v", DefaultTokenTTL, issuer.ttl)
	}
}

func TestIssuer_RoundTrip(t *testing.T) {
	issuer, _ := NewIssuer("secret", time.Hour)

	token, expiresAt, err := issuer.GenerateSessionToken("session-1")
	if err != nil {
		t.Fatalf("GenerateSessionToken() error = %v", err)
	}
	if time.Until(expiresAt) <= 59*time.Minute {
		t.Errorf("Expected expiry about an hour away, got %v", expiresAt)
	}

	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.SessionID != "session-1" {
		t.Errorf("Expected session-1, got %s", claims.SessionID)
	}
	if claims.Role != RoleSession {
		t.Errorf("Expected role %s, got %s", RoleSession, claims.Role)
	}
}

func TestIssuer_RejectsForeignTokens(t *testing.T) {
	issuer, _ := NewIssuer("secret", time.Hour)
	other, _ := NewIssuer("other-secret", time.Hour)

	token, _, _ := other.GenerateSessionToken("session-1")
	if _, err := issuer.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for wrong secret, got %v", err)
	}

	if _, err := issuer.ValidateToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for garbage, got %v", err)
	}

	deviceToken, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		Role: "device",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	if _, err := issuer.ValidateToken(deviceToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for non-session role, got %v", err)
	}
}

func TestIssuer_Expired(t *testing.T) {
	issuer, _ := NewIssuer("secret", time.Hour)

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		SessionID: "session-1",
		Role:      RoleSession,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("secret"))

	if _, err := issuer.ValidateToken(expired); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestIssuer_OperatorToken(t *testing.T) {
	issuer, _ := NewIssuer("secret", time.Hour)

	token, expiresAt, err := issuer.GenerateOperatorToken(10 * time.Minute)
	if err != nil {
		t.Fatalf("GenerateOperatorToken() error = %v", err)
	}
	if time.Until(expiresAt) > 11*time.Minute {
		t.Errorf("Expected expiry about ten minutes away, got %v", expiresAt)
	}

	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Role != RoleOperator {
		t.Errorf("Expected role %s, got %s", RoleOperator, claims.Role)
	}
	if claims.SessionID != "" {
		t.Errorf("Expected no session on an operator token, got %s", claims.SessionID)
	}

	sessionless, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		Role: RoleSession,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	if _, err := issuer.ValidateToken(sessionless); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for session token without a session, got %v", err)
	}
}
