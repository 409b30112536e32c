package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

func newStatsCmd(global *globalOptions) *cobra.Command {
	var relayURL string

	cmd := &cobra.Command{
		Use:     "stats",
		Short:   "Show how many senders and receivers the relay has registered",
		Example: `  signal-peer stats --url http://localhost:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			statsURL, err := statsEndpoint(relayURL)
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, statsURL, nil)
			if err != nil {
				return err
			}
			if global.origin != "" {
				req.Header.Set("Origin", global.origin)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("fetch stats: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("fetch stats: unexpected status %s", resp.Status)
			}

			var stats signaling.Stats
			if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&stats); err != nil {
				return fmt.Errorf("decode stats: %w", err)
			}
			renderStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}

	cmd.Flags().StringVarP(&relayURL, "url", "u", "", "relay base URL")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// statsEndpoint maps a relay base URL, in either http or ws form, to its
// /stats endpoint.
func statsEndpoint(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "http"
	case "https", "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/stats"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func renderStats(w io.Writer, stats signaling.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Role", "Peers"})
	t.AppendRow(table.Row{"senders", stats.Senders})
	t.AppendRow(table.Row{"receivers", stats.Receivers})
	t.AppendFooter(table.Row{"total", stats.Senders + stats.Receivers})
	t.Render()
}
