package metrics

import (
	"sort"
	"sync"
)

// Event counter names shared by the matchmaking engine and the signaling
// transport.
const (
	ConnectionsRegistered = "connections_registered"
	ConnectionsRejected   = "connections_rejected"
	ConnectionsRemoved    = "connections_removed"

	SeekRequests   = "seek_requests"
	SeekCancelled  = "seek_cancelled"
	RoomsCreated   = "rooms_created"
	RoomsTornDown  = "rooms_torn_down"
	PartnerLeft    = "partner_left_sent"
	SignalsRelayed = "signals_relayed"
	SignalsDropped = "signals_dropped"
	SignalsDenied  = "signals_denied"
	MailboxKicks   = "mailbox_overflow_kicks"

	AuthSucceeded = "auth_succeeded"
	AuthFailed    = "auth_failed"
	AuthTimeout   = "auth_timeout"

	WSRateLimited  = "ws_rate_limited"
	WSProtocolErrs = "ws_protocol_errors"
	WSIdleTimeouts = "ws_idle_timeouts"

	ICECredentialsIssued = "ice_credentials_issued"
)

// Metrics is a concurrency-safe counter registry with optional gauges.
//
// Counters only go up. Gauges are sampled on Snapshot through callbacks so
// owners of live state do not have to push updates.
type Metrics struct {
	mu     sync.Mutex
	m      map[string]uint64
	gauges map[string]func() float64
}

func New() *Metrics {
	return &Metrics{
		m:      make(map[string]uint64),
		gauges: make(map[string]func() float64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// RegisterGauge installs fn as the sampler for gauge name, replacing any
// previous sampler. fn must not call back into m.
func (m *Metrics) RegisterGauge(name string, fn func() float64) {
	if m == nil || fn == nil {
		return
	}
	m.mu.Lock()
	m.gauges[name] = fn
	m.mu.Unlock()
}

type gaugeSample struct {
	name  string
	value float64
}

func (m *Metrics) sampleGauges() []gaugeSample {
	m.mu.Lock()
	fns := make(map[string]func() float64, len(m.gauges))
	for k, fn := range m.gauges {
		fns[k] = fn
	}
	m.mu.Unlock()

	out := make([]gaugeSample, 0, len(fns))
	for name, fn := range fns {
		out = append(out, gaugeSample{name: name, value: fn()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
