package auth

import (
	"testing"
	"time"
)

func TestJWTRoundTrip(t *testing.T) {
	secret := "test-secret"
	address := "0x1111111111111111111111111111111111111111"

	token, err := GenerateJWT(secret, address, "agent", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}

	claims, err := ParseJWT(secret, token)
	if err != nil {
		t.Fatalf("ParseJWT() error = %v", err)
	}
	if claims.Address != address {
		t.Errorf("address = %q, want %q", claims.Address, address)
	}
	if claims.Role != "agent" {
		t.Errorf("role = %q, want %q", claims.Role, "agent")
	}
	if claims.Issuer != "prmission" {
		t.Errorf("issuer = %q, want %q", claims.Issuer, "prmission")
	}
}

func TestParseJWTWrongSecret(t *testing.T) {
	token, err := GenerateJWT("secret-a", "0x01", "user", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseJWT("secret-b", token); err == nil {
		t.Error("token signed with a different secret should be rejected")
	}
}

func TestParseJWTExpired(t *testing.T) {
	token, err := GenerateJWT("secret", "0x01", "user", time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := ParseJWT("secret", token); err == nil {
		t.Error("expired token should be rejected")
	}
}

func TestParseJWTGarbage(t *testing.T) {
	if _, err := ParseJWT("secret", "not.a.token"); err == nil {
		t.Error("malformed token should be rejected")
	}
}
