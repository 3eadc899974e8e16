package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{
		UserID:   "u-1",
		UserType: "teacher",
		SchoolID: "sch-1",
	})
	if err != nil {
		t.Fatalf("token creation failed: %v", err)
	}
	claims, err := ParseToken("secret", "issuer", token)
	if err != nil {
		t.Fatalf("token parse failed: %v", err)
	}
	if claims.UserID != "u-1" || claims.UserType != "teacher" || claims.SchoolID != "sch-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{UserID: "u-1", UserType: "admin"})
	if err != nil {
		t.Fatalf("token creation failed: %v", err)
	}
	if _, err := ParseToken("other-secret", "issuer", token); err == nil {
		t.Fatalf("expected invalid signature error")
	}
}

func TestTokenRejectsWrongIssuer(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{UserID: "u-1", UserType: "admin"})
	if err != nil {
		t.Fatalf("token creation failed: %v", err)
	}
	if _, err := ParseToken("secret", "someone-else", token); err == nil {
		t.Fatalf("expected issuer mismatch error")
	}
}

func TestTokenRejectsExpired(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", -time.Minute, Claims{UserID: "u-1", UserType: "admin"})
	if err != nil {
		t.Fatalf("token creation failed: %v", err)
	}
	if _, err := ParseToken("secret", "issuer", token); err == nil {
		t.Fatalf("expected expiry error")
	}
}
