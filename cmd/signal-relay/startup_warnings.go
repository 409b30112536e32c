package main

import (
	"log/slog"
	"net"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxPeers <= 0 {
		logger.Warn("startup security warning: MAX_PEERS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_peers_unlimited_in_prod",
			"max_peers", cfg.MaxPeers,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeDev && !isLoopbackListenAddr(cfg.ListenAddr) {
		logger.Warn("startup security warning: --mode=dev while listening on a non-loopback address",
			"warning_code", "dev_mode_public_listener",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}

	// Large frames and long idle windows weaken the per-connection hardening.
	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.SignalingWSIdleTimeout > 10*time.Minute {
		logger.Warn("startup security warning: SIGNALING_WS_IDLE_TIMEOUT is very large (dead peers stay registered longer)",
			"warning_code", "signaling_ws_idle_timeout_large",
			"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
			"mode", cfg.Mode,
		)
	}

	if !cfg.NotifySenderExit {
		logger.Warn("startup warning: NOTIFY_SENDER_EXIT is disabled; receivers will not learn when a sender leaves",
			"warning_code", "sender_exit_disabled",
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /rtc-config and /readyz will report 503",
			"warning_code", "ice_config_invalid",
			"err", err,
		)
	}
}

func isLoopbackListenAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
