package mediaengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pion/webrtc/v4"
)

// maxRTCConfigBytes bounds the /rtc-config body.
const maxRTCConfigBytes = 64 * 1024

// FetchRTCConfig reads the relay's GET /rtc-config and returns its ICE
// servers. client may be nil.
func FetchRTCConfig(ctx context.Context, client *http.Client, url string) ([]webrtc.ICEServer, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rtc-config request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rtc-config: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRTCConfigBytes))
	if err != nil {
		return nil, fmt.Errorf("read rtc-config: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rtc-config: status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode rtc-config: %w", err)
	}
	return payload.ICEServers, nil
}
