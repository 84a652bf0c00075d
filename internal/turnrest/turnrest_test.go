package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func expectedCredential(t *testing.T, secret []byte, username string) string {
	t.Helper()
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTestIssuer(t *testing.T, now time.Time) *Issuer {
	t.Helper()
	iss, err := NewIssuer(Config{
		SharedSecret:   "shared-secret",
		TTLSeconds:     3600,
		UsernamePrefix: "aero",
		Now:            func() time.Time { return now },
		NewSessionID:   func() string { return "random" },
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss
}

func TestIssue_Deterministic(t *testing.T) {
	iss := newTestIssuer(t, time.Unix(1_700_000_000, 0))

	creds, err := iss.Issue("conn123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	wantUsername := "1700003600:aero:conn123"
	if creds.Username != wantUsername {
		t.Fatalf("Username: got %q, want %q", creds.Username, wantUsername)
	}
	if want := expectedCredential(t, []byte("shared-secret"), wantUsername); creds.Credential != want {
		t.Fatalf("Credential: got %q, want %q", creds.Credential, want)
	}
	if creds.ExpiresAt.Unix() != 1_700_003_600 {
		t.Fatalf("ExpiresAt=%v", creds.ExpiresAt)
	}
	if iss.TTL() != time.Hour {
		t.Fatalf("TTL=%v, want 1h", iss.TTL())
	}
}

func TestIssue_RandomSession(t *testing.T) {
	iss := newTestIssuer(t, time.Unix(42, 0))
	creds, err := iss.Issue("")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasSuffix(creds.Username, ":aero:random") {
		t.Fatalf("Username=%q, want random session suffix", creds.Username)
	}
	if _, err := iss.Issue("a:b"); err == nil {
		t.Fatalf("expected error for session containing ':'")
	}
}

func TestDefaultSessionIDIsUUID(t *testing.T) {
	iss, err := NewIssuer(Config{SharedSecret: "s", TTLSeconds: 1, UsernamePrefix: "p"})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	creds, err := iss.Issue("")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(creds.Username, ":")
	if len(parts) != 3 || len(parts[2]) != 36 {
		t.Fatalf("Username=%q, want <expiry>:p:<uuid>", creds.Username)
	}
}

func TestNewIssuer_Validation(t *testing.T) {
	cases := []Config{
		{TTLSeconds: 1, UsernamePrefix: "p"},
		{SharedSecret: "s", UsernamePrefix: "p"},
		{SharedSecret: "s", TTLSeconds: 1},
		{SharedSecret: "s", TTLSeconds: 1, UsernamePrefix: "a:b"},
	}
	for i, cfg := range cases {
		if _, err := NewIssuer(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestApply(t *testing.T) {
	servers := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example:3478"}},
		{URLs: []string{"TURN:turn.example:3478?transport=udp"}},
	}
	out := Apply(servers, Credentials{Username: "u", Credential: "c"})
	if out[0].Username != "" || out[0].Credential != nil {
		t.Fatalf("STUN entry modified: %+v", out[0])
	}
	if out[1].Username != "u" || out[1].Credential != "c" {
		t.Fatalf("TURN entry=%+v", out[1])
	}
	if servers[1].Username != "" {
		t.Fatalf("Apply mutated input")
	}
	if got := Apply(nil, Credentials{}); got == nil || len(got) != 0 {
		t.Fatalf("Apply(nil)=%#v, want empty non-nil", got)
	}
}
