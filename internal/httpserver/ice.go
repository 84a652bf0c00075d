package httpserver

import (
	"net/http"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/turnrest"
)

type iceResponse struct {
	ICEServers []config.ClientICEServer `json:"iceServers"`
	// Set when TURN credentials are ephemeral.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "ice_config", err.Error())
		return
	}

	// Credentials may be per request; never let an intermediary reuse them.
	w.Header().Set("Cache-Control", "no-store")

	servers := s.cfg.ICEServers
	var resp iceResponse
	if s.deps.TURN != nil {
		creds, err := s.deps.TURN.Issue("")
		if err != nil {
			s.log.Error("turn rest credentials", "err", err)
			writeJSONError(w, http.StatusInternalServerError, "internal_error", "failed to issue TURN credentials")
			return
		}
		servers = turnrest.Apply(servers, creds)
		resp.ExpiresAt = creds.ExpiresAt.Unix()
		s.deps.Metrics.Inc(metrics.ICECredentialsIssued)
	}
	resp.ICEServers = config.ClientICEServers(servers)
	WriteJSON(w, http.StatusOK, resp)
}
