package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Environment variables read by NewAuthenticatorFromEnv.
const (
	EnvAuthEnabled = "OMEGA_AUTH_ENABLED"
	EnvAuthToken   = "OMEGA_AUTH_TOKEN"
)

// MetadataToken is the gRPC metadata key carrying the control token.
const MetadataToken = "authorization"

// Authentication errors
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthTokenMismatch = errors.New("auth token mismatch")
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token"`
}

// Authenticator checks control-plane tokens. It is immutable after
// construction.
type Authenticator struct {
	config AuthConfig
}

// NewAuthenticator creates a new Authenticator with the given config. An
// enabled config without a token gets a generated one.
func NewAuthenticator(config AuthConfig) (*Authenticator, error) {
	if config.Enabled && config.Token == "" {
		token, err := GenerateToken()
		if err != nil {
			return nil, err
		}
		config.Token = token
	}
	return &Authenticator{config: config}, nil
}

// NewAuthenticatorFromEnv overlays OMEGA_AUTH_ENABLED and OMEGA_AUTH_TOKEN
// on config.
func NewAuthenticatorFromEnv(config AuthConfig) (*Authenticator, error) {
	switch os.Getenv(EnvAuthEnabled) {
	case "true", "1":
		config.Enabled = true
	case "false", "0":
		config.Enabled = false
	}
	if token := os.Getenv(EnvAuthToken); token != "" {
		config.Token = token
	}
	return NewAuthenticator(config)
}

// IsEnabled returns true if authentication is enabled.
func (a *Authenticator) IsEnabled() bool {
	return a.config.Enabled
}

// GetToken returns the current auth token (for displaying to admin).
func (a *Authenticator) GetToken() string {
	return a.config.Token
}

// ValidateToken checks the provided token in constant time.
func (a *Authenticator) ValidateToken(providedToken string) error {
	if !a.config.Enabled {
		return nil
	}
	if providedToken == "" {
		return ErrAuthRequired
	}
	if subtle.ConstantTimeCompare([]byte(a.config.Token), []byte(providedToken)) != 1 {
		return ErrAuthTokenMismatch
	}
	return nil
}

// UnaryInterceptor rejects calls whose "authorization" metadata does not
// carry the token, either bare or as "Bearer <token>".
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := a.ValidateToken(tokenFromContext(ctx)); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}

func tokenFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(MetadataToken)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimPrefix(values[0], "Bearer ")
}

// GenerateToken generates a cryptographically secure random token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
