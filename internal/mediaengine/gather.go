package mediaengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

var errNoLocalDescription = errors.New("missing local description")

// setLocalAndGather applies desc and waits for ICE gathering, up to timeout.
// On timeout the description gathered so far is returned.
func setLocalAndGather(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription, timeout time.Duration) (*webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("set local %s: %w", desc.Type, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-gatherComplete:
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	local := pc.LocalDescription()
	if local == nil {
		return nil, errNoLocalDescription
	}
	return local, nil
}
