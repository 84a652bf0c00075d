// Package turnrest mints coturn-compatible ephemeral TURN credentials.
//
// Algorithm (draft-uberti-behave-turn-rest, coturn use-auth-secret):
//
//	username   = <unix_expiry>:<prefix>:<session>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Now            func() time.Time
	// NewSessionID defaults to a random UUID.
	NewSessionID func() string
}

type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

// Issuer signs TURN usernames with a shared secret known to the TURN server.
type Issuer struct {
	secret       []byte
	ttl          time.Duration
	prefix       string
	now          func() time.Time
	newSessionID func() string
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("TTLSeconds must be > 0")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("UsernamePrefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("UsernamePrefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	return &Issuer{
		secret:       []byte(cfg.SharedSecret),
		ttl:          time.Duration(cfg.TTLSeconds) * time.Second,
		prefix:       cfg.UsernamePrefix,
		now:          cfg.Now,
		newSessionID: cfg.NewSessionID,
	}, nil
}

func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue returns credentials bound to session. An empty session gets a random
// one.
func (i *Issuer) Issue(session string) (Credentials, error) {
	if session == "" {
		session = i.newSessionID()
	}
	if strings.Contains(session, ":") {
		return Credentials{}, fmt.Errorf("session %q must not contain ':'", session)
	}
	expires := i.now().UTC().Add(i.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expires.Unix(), i.prefix, session)
	return Credentials{
		Username:   username,
		Credential: sign(i.secret, username),
		ExpiresAt:  expires,
	}, nil
}

// Apply returns a copy of servers with creds set on every TURN entry. STUN
// entries are left untouched.
func Apply(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for idx, server := range servers {
		out[idx] = server
		if isTURN(server) {
			out[idx].Username = creds.Username
			out[idx].Credential = creds.Credential
		}
	}
	return out
}

func isTURN(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
