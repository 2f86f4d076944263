package auth

import (
	"testing"
	"time"

	"tablecall/internal/config"
)

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	// The parse step checks expiry against the wall clock, so issue
	// against it too; only the second-stage validator sees the passed-in
	// verification time.
	now := time.Now()
	pair, err := m.IssuePair(now, "staff-1", "manager")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "staff-1" || claims.Role != "manager" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), "u", "r")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	// Token still parses (it is fresh in wall-clock terms) but the
	// verification time sits past its one-minute TTL plus leeway.
	now := time.Now()
	p, err := m.IssuePair(now, "u", "r")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, now.Add(2*time.Minute)); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestStaticCredentials(t *testing.T) {
	creds := StaticCredentials{Username: "admin", Password: "s3cret", Role: "owner"}

	if !creds.Check("admin", "s3cret") {
		t.Fatal("valid login rejected")
	}
	if creds.Check("admin", "wrong") {
		t.Fatal("wrong password accepted")
	}
	if creds.Check("root", "s3cret") {
		t.Fatal("wrong username accepted")
	}
	if (StaticCredentials{}).Check("", "") {
		t.Fatal("empty seed account accepted a login")
	}
}
