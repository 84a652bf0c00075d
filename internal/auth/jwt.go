package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	maxTokenLen = 8 * 1024
	clockSkew   = 30 * time.Second

	// ClaimDisplayName carries the participant's display name. sub is the user
	// id.
	ClaimDisplayName = "name"
)

type JWTOptions struct {
	Secret string
	// Issuer and Audience, when set, must match the token's iss and aud.
	Issuer   string
	Audience string
	Now      func() time.Time
}

// JWTAuthenticator verifies HS256 session tokens issued by the account
// service.
type JWTAuthenticator struct {
	secret []byte
	opts   []jwt.ParseOption
}

func NewJWTAuthenticator(o JWTOptions) (*JWTAuthenticator, error) {
	if o.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	secret := []byte(o.Secret)
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(o.Now)),
		jwt.WithAcceptableSkew(clockSkew),
		jwt.WithRequiredClaim(jwt.SubjectKey),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}
	if o.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(o.Issuer))
	}
	if o.Audience != "" {
		opts = append(opts, jwt.WithAudience(o.Audience))
	}
	return &JWTAuthenticator{secret: secret, opts: opts}, nil
}

func (a *JWTAuthenticator) Authenticate(c Credentials) (Identity, error) {
	if c.Token == "" {
		return Identity{}, ErrMissingCredentials
	}
	if len(c.Token) > maxTokenLen {
		return Identity{}, fmt.Errorf("%w: token too large", ErrInvalidCredentials)
	}
	tok, err := jwt.Parse([]byte(c.Token), a.opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	var name string
	if v, ok := tok.Get(ClaimDisplayName); ok {
		name, _ = v.(string)
	}
	return newIdentity(tok.Subject(), name)
}
