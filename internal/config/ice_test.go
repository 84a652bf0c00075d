package config

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {"urls": ["stun:stun.example.com:3478"]},
	  {"urls": ["turn:turn.example.com:3478?transport=udp"], "username": "user", "credential": "pass"}
	]`

	servers, err := parseICEServersJSON(raw, false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if got := servers[1].Username; got != "user" {
		t.Fatalf("unexpected username: %q", got)
	}
	if cred, ok := servers[1].Credential.(string); !ok || cred != "pass" {
		t.Fatalf("unexpected credential: %#v", servers[1].Credential)
	}
}

func TestParseICEServersJSON_SingleStringURLs(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServersJSON(`[{"urls": "stun:stun.example.com:3478"}]`, false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 || len(servers[0].URLs) != 1 {
		t.Fatalf("unexpected servers: %#v", servers)
	}
}

func TestParseICEServersJSON_TURNCredentials(t *testing.T) {
	t.Parallel()

	raw := `[{"urls": ["turn:turn.example.com:3478"]}]`
	if _, err := parseICEServersJSON(raw, false); err == nil {
		t.Fatal("expected error without TURN REST")
	}
	if _, err := parseICEServersJSON(raw, true); err != nil {
		t.Fatalf("TURN REST should allow missing static creds: %v", err)
	}
}

func TestParseICEServersJSON_RejectsBadScheme(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`[{"urls": ["http://example.com"]}]`,
		`[{"urls": []}]`,
		`{"urls": "stun:x"}`,
	} {
		if _, err := parseICEServersJSON(raw, false); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestParseICEServerLists(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServerLists("stun:a:3478, stun:b:3478", "turn:t:3478", "u", "p", false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 || len(servers[0].URLs) != 2 {
		t.Fatalf("unexpected servers: %#v", servers)
	}
	if _, err := parseICEServerLists("", "turn:t:3478", "u", "", false); err == nil {
		t.Fatalf("expected error for TURN without credential")
	}
	if _, err := parseICEServerLists("", "turn:t:3478", "", "", true); err != nil {
		t.Fatalf("TURN REST lists: %v", err)
	}
}

func TestClientICEServers_JSONShape(t *testing.T) {
	t.Parallel()

	got := ClientICEServers([]webrtc.ICEServer{
		{URLs: []string{"stun:a"}},
		{URLs: []string{"TURN:t"}, Username: "u", Credential: "p"},
	})
	b, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[{"urls":["stun:a"]},{"urls":["TURN:t"],"username":"u","credential":"p"}]`
	if string(b) != want {
		t.Fatalf("json=%s, want %s", b, want)
	}
	if empty, _ := json.Marshal(ClientICEServers(nil)); string(empty) != "[]" {
		t.Fatalf("empty list encodes as %s", empty)
	}
	if !IsTURNServer(webrtc.ICEServer{URLs: []string{"TURNS:t"}}) {
		t.Fatalf("IsTURNServer should be case-insensitive")
	}
}
