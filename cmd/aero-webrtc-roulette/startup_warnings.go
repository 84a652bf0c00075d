package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none trusts client-asserted identities",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxConnections <= 0 {
		logger.Warn("startup security warning: MAX_CONNECTIONS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_connections_unlimited_in_prod",
			"max_connections", cfg.MaxConnections,
			"mode", cfg.Mode,
		)
	}

	if cfg.AuthMode == config.AuthModeJWT && cfg.JWTIssuer == "" && cfg.JWTAudience == "" {
		logger.Warn("startup security warning: JWT issuer and audience are unset (any token signed with the secret is accepted)",
			"warning_code", "jwt_unscoped",
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("ICE server configuration is invalid; /webrtc/ice and /readyz will fail",
			"warning_code", "ice_config_invalid",
			"err", err,
		)
	} else if !slices.ContainsFunc(cfg.ICEServers, config.IsTURNServer) {
		logger.Warn("no TURN server configured; peers behind symmetric NATs will fail to connect",
			"warning_code", "no_turn_server",
			"ice_servers", len(cfg.ICEServers),
		)
	}
}
