package jwt

import (
	"errors"
	"testing"
	"time"
)

func TestHMACService_RoundTrip(t *testing.T) {
	s := NewHMACService("secret", time.Hour)
	tok, exp, err := s.GenerateOperatorToken("ops")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if exp.IsZero() {
		t.Fatalf("expected expiry")
	}
	c, err := s.ValidateToken(tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.Operator != "ops" || c.Subject != "ops" || c.TokenType != TokenTypeOperator {
		t.Fatalf("unexpected claims %+v", c)
	}
}

func TestHMACService_Rejects(t *testing.T) {
	s := NewHMACService("secret", time.Hour)
	tok, _, err := s.GenerateOperatorToken("")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	other := NewHMACService("other", time.Hour)
	if _, err := other.ValidateToken(tok); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for a foreign secret, got %v", err)
	}
	if _, err := s.ValidateToken("not.a.token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.ValidateToken(tok); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	if _, _, err := NewHMACService("", time.Hour).GenerateOperatorToken("x"); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}
