package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk TOML layout. Durations are Go duration strings.
type fileConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	PublicBaseURL   string   `toml:"public_base_url"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	Mode            string   `toml:"mode"`
	LogFormat       string   `toml:"log_format"`
	LogLevel        string   `toml:"log_level"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`

	MaxPeers           int  `toml:"max_peers"`
	NotifySenderExit   bool `toml:"notify_sender_exit"`
	PeerSendQueueBytes int  `toml:"peer_send_queue_bytes"`

	Signaling struct {
		IdleTimeout       string `toml:"idle_timeout"`
		PingInterval      string `toml:"ping_interval"`
		MaxMessageBytes   int64  `toml:"max_message_bytes"`
		MaxMessagesPerSec int    `toml:"max_messages_per_second"`
	} `toml:"signaling"`

	ICE struct {
		ServersJSON    string   `toml:"servers_json"`
		STUNURLs       []string `toml:"stun_urls"`
		TURNURLs       []string `toml:"turn_urls"`
		TURNUsername   string   `toml:"turn_username"`
		TURNCredential string   `toml:"turn_credential"`
	} `toml:"ice"`
}

// loadFile decodes a TOML config file into the same keys the environment
// uses, so file values flow through the env parsing and validation path.
// Only keys present in the file are returned.
func loadFile(path string) (map[string]string, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load config file %s: unknown key %q", path, undecoded[0].String())
	}

	out := make(map[string]string)
	set := func(key string, envVar string, value string) {
		if meta.IsDefined(strings.Split(key, ".")...) {
			out[envVar] = value
		}
	}

	set("listen_addr", envVarListenAddr, raw.ListenAddr)
	set("public_base_url", envVarPublicBaseURL, raw.PublicBaseURL)
	set("allowed_origins", envVarAllowedOrigins, strings.Join(raw.AllowedOrigins, ","))
	set("mode", envVarMode, raw.Mode)
	set("log_format", envVarLogFormat, raw.LogFormat)
	set("log_level", envVarLogLevel, raw.LogLevel)
	set("shutdown_timeout", envVarShutdownTimeout, raw.ShutdownTimeout)

	set("max_peers", envVarMaxPeers, strconv.Itoa(raw.MaxPeers))
	set("notify_sender_exit", envVarNotifySenderExit, strconv.FormatBool(raw.NotifySenderExit))
	set("peer_send_queue_bytes", envVarPeerSendQueueBytes, strconv.Itoa(raw.PeerSendQueueBytes))

	set("signaling.idle_timeout", envVarSignalingWSIdleTimeout, raw.Signaling.IdleTimeout)
	set("signaling.ping_interval", envVarSignalingWSPingInterval, raw.Signaling.PingInterval)
	set("signaling.max_message_bytes", envVarMaxSignalingMessageBytes, strconv.FormatInt(raw.Signaling.MaxMessageBytes, 10))
	set("signaling.max_messages_per_second", envVarMaxSignalingMessagesPerSecond, strconv.Itoa(raw.Signaling.MaxMessagesPerSec))

	set("ice.servers_json", envICEServersJSON, raw.ICE.ServersJSON)
	set("ice.stun_urls", envStunURLs, strings.Join(raw.ICE.STUNURLs, ","))
	set("ice.turn_urls", envTurnURLs, strings.Join(raw.ICE.TURNURLs, ","))
	set("ice.turn_username", envTurnUsername, raw.ICE.TURNUsername)
	set("ice.turn_credential", envTurnCredential, raw.ICE.TURNCredential)

	return out, nil
}

// layered prefers non-empty environment values over file values.
func layered(env func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := env(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}
