package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/turnrest"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
	}
}

func startTestServer(t *testing.T, cfg config.Config, deps Deps) (baseURL string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := BuildInfo{Commit: "abc", BuildTime: "time"}
	srv := New(cfg, log, build, deps)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String()
}

func getJSON(t *testing.T, req *http.Request, wantStatus int, out any) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status=%d, want %d (body %s)", resp.StatusCode, wantStatus, body)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp
}

func newGet(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), Deps{})

	t.Run("healthz", func(t *testing.T) {
		var body map[string]any
		resp := getJSON(t, newGet(t, baseURL+"/healthz"), http.StatusOK, &body)
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("expected X-Request-ID response header")
		}
	})

	t.Run("readyz", func(t *testing.T) {
		getJSON(t, newGet(t, baseURL+"/readyz"), http.StatusOK, nil)
	})

	t.Run("version", func(t *testing.T) {
		var got BuildInfo
		getJSON(t, newGet(t, baseURL+"/version"), http.StatusOK, &got)
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})

	t.Run("request id propagates", func(t *testing.T) {
		req := newGet(t, baseURL+"/healthz")
		req.Header.Set("X-Request-ID", "req-123")
		resp := getJSON(t, req, http.StatusOK, nil)
		if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
			t.Fatalf("X-Request-ID=%q, want req-123", got)
		}
	})
}

func TestICEEndpointSchema(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "user", Credential: "pass"},
	}
	baseURL := startTestServer(t, cfg, Deps{})

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
		ExpiresAt  *int64           `json:"expiresAt"`
	}
	resp := getJSON(t, newGet(t, baseURL+"/webrtc/ice"), http.StatusOK, &payload)
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if _, ok := payload.ICEServers[0]["urls"]; !ok {
		t.Fatalf("expected urls field on first server: %#v", payload.ICEServers[0])
	}
	if _, ok := payload.ICEServers[0]["username"]; ok {
		t.Fatalf("stun entry should not carry a username: %#v", payload.ICEServers[0])
	}
	if payload.ICEServers[1]["credential"] != "pass" {
		t.Fatalf("static TURN credential missing: %#v", payload.ICEServers[1])
	}
	if payload.ExpiresAt != nil {
		t.Fatalf("expiresAt set without TURN REST")
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q, want no-store", got)
	}
}

func TestICEEndpoint_EmptyListIsArray(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), Deps{})

	resp, err := http.Get(baseURL + "/webrtc/ice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"iceServers":[]`) {
		t.Fatalf("body=%s, want empty array", body)
	}
}

func TestICEEndpoint_TURNREST(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	issuer, err := turnrest.NewIssuer(turnrest.Config{
		SharedSecret:   "s3cret",
		TTLSeconds:     600,
		UsernamePrefix: "aero",
		Now:            func() time.Time { return now },
		NewSessionID:   func() string { return "sess" },
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	m := metrics.New()

	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478"}},
	}
	baseURL := startTestServer(t, cfg, Deps{TURN: issuer, Metrics: m})

	var payload struct {
		ICEServers []config.ClientICEServer `json:"iceServers"`
		ExpiresAt  int64                    `json:"expiresAt"`
	}
	getJSON(t, newGet(t, baseURL+"/webrtc/ice"), http.StatusOK, &payload)

	wantExpiry := now.Add(600 * time.Second).Unix()
	if payload.ExpiresAt != wantExpiry {
		t.Fatalf("expiresAt=%d, want %d", payload.ExpiresAt, wantExpiry)
	}
	if payload.ICEServers[0].Username != "" {
		t.Fatalf("stun entry got credentials: %+v", payload.ICEServers[0])
	}
	turn := payload.ICEServers[1]
	if turn.Username != "1700000600:aero:sess" || turn.Credential == "" {
		t.Fatalf("unexpected TURN credentials: %+v", turn)
	}
	if m.Get(metrics.ICECredentialsIssued) != 1 {
		t.Fatalf("ice_credentials_issued=%d, want 1", m.Get(metrics.ICECredentialsIssued))
	}
}

func TestICEEndpoint_RejectsCrossOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	baseURL := startTestServer(t, cfg, Deps{})

	req := newGet(t, baseURL+"/webrtc/ice")
	req.Header.Set("Origin", "https://evil.example.com")
	getJSON(t, req, http.StatusForbidden, nil)
}

func TestICEEndpoint_AllowlistedOriginGetsCORS(t *testing.T) {
	policy, err := origin.NewPolicy([]string{"https://app.example"})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	baseURL := startTestServer(t, testConfig(), Deps{Origins: policy})

	req := newGet(t, baseURL+"/webrtc/ice")
	req.Header.Set("Origin", "HTTPS://App.Example:443")
	resp := getJSON(t, req, http.StatusOK, nil)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}

	preflight, err := http.NewRequest(http.MethodOptions, baseURL+"/webrtc/ice", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	preflight.Header.Set("Origin", "https://app.example")
	preflight.Header.Set("Access-Control-Request-Method", "GET")
	resp, err = http.DefaultClient.Do(preflight)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status=%d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "GET,OPTIONS" {
		t.Fatalf("Access-Control-Allow-Methods=%q", got)
	}
}

func TestReadyzFailsOnInvalidICEConfig(t *testing.T) {
	t.Setenv("AERO_ICE_SERVERS_JSON", "[")

	cfg, err := config.Load([]string{"--listen-addr", "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("config.Load returned fatal error: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error to be captured for readiness")
	}

	baseURL := startTestServer(t, cfg, Deps{})
	getJSON(t, newGet(t, baseURL+"/readyz"), http.StatusServiceUnavailable, nil)
	getJSON(t, newGet(t, baseURL+"/webrtc/ice"), http.StatusServiceUnavailable, nil)
	// Liveness is unaffected.
	getJSON(t, newGet(t, baseURL+"/healthz"), http.StatusOK, nil)
}

type fixedSessions int

func (f fixedSessions) ActiveSessions() int { return int(f) }

func TestStatsEndpoint(t *testing.T) {
	engine := matchmaking.NewEngine(matchmaking.Options{})
	nop := matchmaking.MailboxFunc(func(matchmaking.Event) bool { return true })
	for _, id := range []string{"c1", "c2", "c3"} {
		if _, err := engine.Register(id, "u-"+id, "", nop); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
		if err := engine.Seek(id); err != nil {
			t.Fatalf("Seek(%s): %v", id, err)
		}
	}
	baseURL := startTestServer(t, testConfig(), Deps{Engine: engine, Sessions: fixedSessions(4)})

	var got statsResponse
	getJSON(t, newGet(t, baseURL+"/stats"), http.StatusOK, &got)
	want := statsResponse{
		Stats:    matchmaking.Stats{Connections: 3, Waiting: 1, InCall: 2, Rooms: 1, HistoryPairs: 1},
		Sessions: 4,
	}
	if got != want {
		t.Fatalf("stats=%+v, want %+v", got, want)
	}
}

func TestStatsEndpoint_Unconfigured(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), Deps{})
	getJSON(t, newGet(t, baseURL+"/stats"), http.StatusServiceUnavailable, nil)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Inc(metrics.RoomsCreated)
	baseURL := startTestServer(t, testConfig(), Deps{Metrics: m})

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `event="`+metrics.RoomsCreated+`"} 1`) {
		t.Fatalf("metrics body missing rooms counter:\n%s", body)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	srv := New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), BuildInfo{}, Deps{})
	srv.Mux().HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	getJSON(t, newGet(t, "http://"+ln.Addr().String()+"/boom"), http.StatusInternalServerError, nil)
}
