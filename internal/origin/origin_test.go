package origin

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in         string
		normalized string
		host       string
		ok         bool
	}{
		{"HTTPS://Example.COM:443", "https://example.com", "example.com", true},
		{"http://localhost:5173/", "http://localhost:5173", "localhost:5173", true},
		{"http://[::1]:8080", "http://[::1]:8080", "[::1]:8080", true},
		{"null", "null", "", true},
		{" https://a.example ", "https://a.example", "a.example", true},
		{"", "", "", false},
		{"ftp://example.com", "", "", false},
		{"https://example.com/path", "", "", false},
		{"https://example.com/?q=1", "", "", false},
		{"https://user@example.com", "", "", false},
		{"https://example.com/#frag", "", "", false},
		{"https://example.com:0", "", "", false},
		{"https://example.com:70000", "", "", false},
		{"https://example.com:", "", "", false},
		{"http://[::1", "", "", false},
	}
	for _, tc := range cases {
		normalized, host, ok := Normalize(tc.in)
		if ok != tc.ok || normalized != tc.normalized || host != tc.host {
			t.Fatalf("Normalize(%q)=(%q,%q,%v), want (%q,%q,%v)", tc.in, normalized, host, ok, tc.normalized, tc.host, tc.ok)
		}
	}
}

func TestPolicy_SameHostDefault(t *testing.T) {
	p, err := NewPolicy(nil)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	cases := []struct {
		origin, host string
		want         bool
	}{
		{"http://localhost:8080", "localhost:8080", true},
		{"https://chat.example", "chat.example:443", true},
		{"https://chat.example", "chat.example", true},
		// TLS terminated upstream.
		{"https://chat.example:8443", "chat.example:8443", true},
		{"https://evil.example", "chat.example", false},
		{"null", "chat.example", false},
		{"not an origin", "chat.example", false},
	}
	for _, tc := range cases {
		if _, got := p.Check(tc.origin, tc.host); got != tc.want {
			t.Fatalf("Check(%q,%q)=%v, want %v", tc.origin, tc.host, got, tc.want)
		}
	}
}

func TestPolicy_Allowlist(t *testing.T) {
	p, err := NewPolicy([]string{"https://App.Example:443", " ", "http://localhost:5173"})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if p.AllowsAny() {
		t.Fatalf("AllowsAny=true without wildcard")
	}
	if got, ok := p.Check("https://app.example", "api.example"); !ok || got != "https://app.example" {
		t.Fatalf("Check allowlisted=(%q,%v)", got, ok)
	}
	if _, ok := p.Check("https://api.example", "api.example"); ok {
		t.Fatalf("allowlist should disable same-host fallback")
	}

	wild, err := NewPolicy([]string{"*"})
	if err != nil {
		t.Fatalf("NewPolicy(*): %v", err)
	}
	if _, ok := wild.Check("https://anything.example", "api.example"); !ok || !wild.AllowsAny() {
		t.Fatalf("wildcard policy rejected origin")
	}

	if _, err := NewPolicy([]string{"example.com"}); err == nil {
		t.Fatalf("expected error for bare host entry")
	}
}

func FuzzNormalize(f *testing.F) {
	for _, seed := range []string{"https://example.com", "http://[::1]:80", "null", "https://a:b:c"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		normalized, _, ok := Normalize(in)
		if !ok {
			return
		}
		again, _, ok := Normalize(normalized)
		if !ok || again != normalized {
			t.Fatalf("Normalize not idempotent: %q -> %q -> (%q,%v)", in, normalized, again, ok)
		}
	})
}
