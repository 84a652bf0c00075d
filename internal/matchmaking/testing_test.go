package matchmaking

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/metrics"
)

type recordingMailbox struct {
	mu     sync.Mutex
	events []Event
	reject bool
}

func (m *recordingMailbox) Deliver(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject {
		return false
	}
	m.events = append(m.events, ev)
	return true
}

func (m *recordingMailbox) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func (m *recordingMailbox) count(t EventType) int {
	n := 0
	for _, ev := range m.Events() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type testEngine struct {
	*Engine
	metrics *metrics.Metrics
	boxes   map[string]*recordingMailbox
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	m := metrics.New()
	var seq int
	var seqMu sync.Mutex
	e := NewEngine(Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: m,
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
		NewRoomID: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("R%d", seq)
		},
	})
	return &testEngine{Engine: e, metrics: m, boxes: make(map[string]*recordingMailbox)}
}

// connect registers id for userID and records its mailbox.
func (te *testEngine) connect(t *testing.T, id, userID string) *recordingMailbox {
	t.Helper()
	mb := &recordingMailbox{}
	if _, err := te.Register(id, userID, "name-"+userID, mb); err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
	te.boxes[id] = mb
	return mb
}

func (te *testEngine) mustSeek(t *testing.T, id string) {
	t.Helper()
	if err := te.Seek(id); err != nil {
		t.Fatalf("Seek(%s): %v", id, err)
	}
}

func (te *testEngine) status(t *testing.T, id string) Connection {
	t.Helper()
	c, err := te.Connection(id)
	if err != nil {
		t.Fatalf("Connection(%s): %v", id, err)
	}
	return c
}
