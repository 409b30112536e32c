package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/mediaengine"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	logLevel      string
	logFormat     string
	origin        string
	rtcConfigURL  string
	stunURLs      string
	udpPortMin    uint16
	udpPortMax    uint16
	nat1To1IPs    []string
	gatherTimeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "signal-peer",
		Short: "Exchange WebRTC data channels through a signal relay",
		Long: `signal-peer connects to a signal relay as a sender or a receiver.

Senders answer offer requests from receivers. Receivers pick a sender,
request an offer, answer it and print whatever arrives on the data channel.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&opts.origin, "origin", "", "Origin header sent with the WebSocket handshake")
	pf.StringVar(&opts.rtcConfigURL, "rtc-config-url", "", "fetch ICE servers from this /rtc-config endpoint")
	pf.StringVar(&opts.stunURLs, "stun-urls", "", "comma-separated STUN URLs")
	pf.Uint16Var(&opts.udpPortMin, "udp-port-min", 0, "lowest local UDP port for ICE (0 = any)")
	pf.Uint16Var(&opts.udpPortMax, "udp-port-max", 0, "highest local UDP port for ICE (0 = any)")
	pf.StringSliceVar(&opts.nat1To1IPs, "nat-1to1-ips", nil, "public IPs to advertise as host candidates")
	pf.DurationVar(&opts.gatherTimeout, "gather-timeout", 5*time.Second, "maximum ICE gathering time per description")

	cmd.AddCommand(
		newSendCmd(opts),
		newReceiveCmd(opts),
		newStatsCmd(opts),
	)
	return cmd
}

func (o *globalOptions) logger(w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(o.logLevel)
	if err != nil {
		return nil, err
	}
	format, err := config.ParseLogFormat(o.logFormat)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

func (o *globalOptions) header() http.Header {
	h := http.Header{}
	if o.origin != "" {
		h.Set("Origin", o.origin)
	}
	return h
}

// iceServers returns the servers advertised by --rtc-config-url followed by
// any --stun-urls.
func (o *globalOptions) iceServers(ctx context.Context, client *http.Client) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer
	if strings.TrimSpace(o.rtcConfigURL) != "" {
		fetched, err := mediaengine.FetchRTCConfig(ctx, client, o.rtcConfigURL)
		if err != nil {
			return nil, err
		}
		servers = append(servers, fetched...)
	}
	stun, err := config.ParseICEServerURLs(o.stunURLs, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("--stun-urls: %w", err)
	}
	return append(servers, stun...), nil
}

func (o *globalOptions) engineConfig(ctx context.Context, log *slog.Logger) (mediaengine.Config, error) {
	if o.gatherTimeout <= 0 {
		return mediaengine.Config{}, fmt.Errorf("--gather-timeout must be positive, got %s", o.gatherTimeout)
	}
	servers, err := o.iceServers(ctx, http.DefaultClient)
	if err != nil {
		return mediaengine.Config{}, err
	}
	return mediaengine.Config{
		ICEServers:    servers,
		UDPPortMin:    o.udpPortMin,
		UDPPortMax:    o.udpPortMax,
		NAT1To1IPs:    o.nat1To1IPs,
		GatherTimeout: o.gatherTimeout,
		Logger:        log,
	}, nil
}
