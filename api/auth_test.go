package api

import (
	"testing"
)

func TestAuthenticatorDisabled(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	if auth.IsEnabled() {
		t.Error("Expected auth disabled")
	}
	if err := auth.ValidateToken(""); err != nil {
		t.Errorf("Disabled auth should accept anything, got %v", err)
	}
}

func TestAuthenticatorValidate(t *testing.T) {
	auth, _ := NewAuthenticator(AuthConfig{Enabled: true, Token: "abc"})

	if err := auth.ValidateToken(""); err != ErrAuthRequired {
		t.Errorf("Expected ErrAuthRequired, got %v", err)
	}
	if err := auth.ValidateToken("abd"); err != ErrAuthTokenMismatch {
		t.Errorf("Expected ErrAuthTokenMismatch, got %v", err)
	}
	if err := auth.ValidateToken("abc"); err != nil {
		t.Errorf("Expected valid token, got %v", err)
	}
}

func TestAuthenticatorGeneratesToken(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	if len(auth.GetToken()) != 64 {
		t.Errorf("Expected 64 hex chars, got %q", auth.GetToken())
	}
}

func TestAuthenticatorFromEnv(t *testing.T) {
	t.Setenv(EnvAuthEnabled, "1")
	t.Setenv(EnvAuthToken, "from-env")

	auth, err := NewAuthenticatorFromEnv(AuthConfig{Token: "from-file"})
	if err != nil {
		t.Fatalf("NewAuthenticatorFromEnv: %v", err)
	}
	if !auth.IsEnabled() || auth.GetToken() != "from-env" {
		t.Errorf("Expected env to win, got enabled=%v token=%q", auth.IsEnabled(), auth.GetToken())
	}

	t.Setenv(EnvAuthEnabled, "false")
	auth, _ = NewAuthenticatorFromEnv(AuthConfig{Enabled: true, Token: "x"})
	if auth.IsEnabled() {
		t.Error("Expected env to disable auth")
	}
}
