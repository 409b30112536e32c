// Package mediaengine implements peer.OfferEngine and peer.AnswerEngine on
// pion/webrtc. Descriptions are exchanged non-trickle: each offer or answer
// carries every candidate gathered before the timeout.
package mediaengine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"
)

const defaultGatherTimeout = 5 * time.Second

// Config selects how peer connections are built.
type Config struct {
	ICEServers []webrtc.ICEServer

	// UDPPortMin and UDPPortMax bound the ephemeral ICE ports. Both zero means
	// any port.
	UDPPortMin uint16
	UDPPortMax uint16

	// NAT1To1IPs are advertised as host candidates in place of local
	// addresses.
	NAT1To1IPs []string

	// GatherTimeout caps how long a description waits for ICE gathering.
	GatherTimeout time.Duration

	Logger *slog.Logger

	// Configure runs last on the SettingEngine, e.g. to install a virtual
	// network.
	Configure func(*webrtc.SettingEngine)
}

func (c Config) gatherTimeout() time.Duration {
	if c.GatherTimeout <= 0 {
		return defaultGatherTimeout
	}
	return c.GatherTimeout
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// NewAPI builds a pion API with default codecs, network settings from cfg and
// pion's own logs routed to cfg.Logger.
func NewAPI(cfg Config) (*webrtc.API, error) {
	se := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(cfg.logger()),
	}
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}
	if cfg.Configure != nil {
		cfg.Configure(&se)
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me)), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg Config) error {
	if cfg.UDPPortMin != 0 || cfg.UDPPortMax != 0 {
		if cfg.UDPPortMin == 0 || cfg.UDPPortMax < cfg.UDPPortMin {
			return fmt.Errorf("invalid udp port range %d-%d", cfg.UDPPortMin, cfg.UDPPortMax)
		}
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	if len(cfg.NAT1To1IPs) > 0 {
		se.SetNAT1To1IPs(cfg.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}
	return nil
}
