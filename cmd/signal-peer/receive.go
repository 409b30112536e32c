package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/mediaengine"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/peer"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

func newReceiveCmd(global *globalOptions) *cobra.Command {
	var (
		relayURL string
		senderID string
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Register as a receiver and print data channel messages",
		Long: `Register as a receiver and print data channel messages.

The relay only announces senders that are connected when the receiver
registers, so start senders first.`,
		Example: `  signal-peer receive --url ws://localhost:8080
  signal-peer receive --url ws://localhost:8080 --sender-id 5f0c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log, err := global.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cfg, err := global.engineConfig(ctx, log)
			if err != nil {
				return err
			}

			out := &lineWriter{w: cmd.OutOrStdout()}
			engine, err := mediaengine.NewReceiver(cfg, out.message)
			if err != nil {
				return err
			}
			defer engine.CloseAll()

			c, err := peer.Dial(ctx, relayURL, signaling.RoleReceiver, global.header(), log)
			if err != nil {
				return err
			}
			defer c.Close()

			return quietCancel(peer.RunReceiver(ctx, c, engine, peer.ReceiverOptions{
				SenderID: senderID,
				Logger:   log,
			}))
		},
	}

	cmd.Flags().StringVarP(&relayURL, "url", "u", "", "relay base URL (http, https, ws or wss)")
	cmd.Flags().StringVar(&senderID, "sender-id", "", "only connect to this sender")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// lineWriter prints one line per data channel message. pion delivers messages
// from several goroutines.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) message(senderID string, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s: %s\n", senderID, data)
}
