// Package auth turns client credentials into the identity the matchmaking
// engine registers. Credential issuance lives elsewhere.
package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/config"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const (
	MaxUserIDBytes      = 128
	MaxDisplayNameRunes = 64
)

// Identity is an authenticated participant.
type Identity struct {
	UserID      string
	DisplayName string
}

// Credentials is whatever the client presented. Which fields matter depends on
// the auth mode.
type Credentials struct {
	Token       string
	UserID      string
	DisplayName string
}

func (c Credentials) empty() bool {
	return c.Token == "" && c.UserID == ""
}

type Authenticator interface {
	Authenticate(Credentials) (Identity, error)
}

func New(cfg config.Config) (Authenticator, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return NoneAuthenticator{}, nil
	case config.AuthModeJWT:
		return NewJWTAuthenticator(JWTOptions{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		})
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// CredentialsFromQuery extracts credentials passed on the WebSocket URL, for
// clients that cannot send an auth message first.
func CredentialsFromQuery(q url.Values) (Credentials, bool) {
	c := Credentials{
		Token:       q.Get("token"),
		UserID:      q.Get("userId"),
		DisplayName: q.Get("displayName"),
	}
	return c, !c.empty()
}

// NoneAuthenticator accepts any well-formed self-asserted identity.
type NoneAuthenticator struct{}

func (NoneAuthenticator) Authenticate(c Credentials) (Identity, error) {
	if c.UserID == "" {
		return Identity{}, ErrMissingCredentials
	}
	return newIdentity(c.UserID, c.DisplayName)
}

func newIdentity(userID, displayName string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > MaxUserIDBytes || !utf8.ValidString(userID) {
		return Identity{}, fmt.Errorf("%w: bad user id", ErrInvalidCredentials)
	}
	return Identity{UserID: userID, DisplayName: cleanDisplayName(displayName, userID)}, nil
}

// cleanDisplayName trims and truncates name, dropping control characters. An
// empty result falls back to fallback.
func cleanDisplayName(name, fallback string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(name) {
		if n == MaxDisplayNameRunes {
			break
		}
		if r == utf8.RuneError || r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
		n++
	}
	if out := strings.TrimSpace(b.String()); out != "" {
		return out
	}
	return fallback
}
