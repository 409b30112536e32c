package mediaengine

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabel is the channel a sender opens on every connection.
const DataChannelLabel = "stream"

func validateStreamDataChannel(dc *webrtc.DataChannel) error {
	if dc.Label() != DataChannelLabel {
		return fmt.Errorf("expected label=%q (got %q)", DataChannelLabel, dc.Label())
	}
	if !dc.Ordered() {
		return fmt.Errorf("stream datachannel must be ordered (ordered=false)")
	}
	if dc.MaxPacketLifeTime() != nil || dc.MaxRetransmits() != nil {
		return fmt.Errorf("stream datachannel must be fully reliable")
	}
	return nil
}
