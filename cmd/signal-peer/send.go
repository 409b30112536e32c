package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/mediaengine"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/peer"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

func newSendCmd(global *globalOptions) *cobra.Command {
	var (
		relayURL string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Register as a sender and stream to every receiver that asks",
		Example: `  signal-peer send --url ws://localhost:8080
  signal-peer send --url wss://relay.example.com --interval 500ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			ctx := cmd.Context()
			log, err := global.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cfg, err := global.engineConfig(ctx, log)
			if err != nil {
				return err
			}

			engine, err := mediaengine.NewSender(cfg, func(receiverID string, dc *webrtc.DataChannel) {
				go stream(ctx, log.With("receiver_id", receiverID), dc, interval)
			})
			if err != nil {
				return err
			}
			defer engine.CloseAll()

			c, err := peer.Dial(ctx, relayURL, signaling.RoleSender, global.header(), log)
			if err != nil {
				return err
			}
			defer c.Close()

			return quietCancel(peer.RunSender(ctx, c, engine, peer.SenderOptions{Logger: log}))
		},
	}

	cmd.Flags().StringVarP(&relayURL, "url", "u", "", "relay base URL (http, https, ws or wss)")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "delay between messages on each data channel")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// stream writes a numbered line to dc every interval until the channel or ctx
// closes.
func stream(ctx context.Context, log *slog.Logger, dc *webrtc.DataChannel, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for seq := 1; ; seq++ {
		if err := dc.SendText(fmt.Sprintf("message %d at %s", seq, time.Now().UTC().Format(time.RFC3339Nano))); err != nil {
			log.Debug("stream stopped", "sent", seq-1, "err", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// quietCancel treats an interrupt as a clean exit.
func quietCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
