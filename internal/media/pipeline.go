// Package media defines the gateway's view of a media pipeline. The
// pipeline itself (encoding, capture, WebRTC media transport) runs in the
// media process; this package only carries commands to it and surfaces the
// SDP/ICE events it produces during negotiation.
package media

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

// Pipeline is the command surface of one media pipeline (video or audio).
// Start and Stop bound a single negotiation session; everything else is
// valid only between them, and implementations ignore commands for
// pipelines that are not running rather than failing the caller.
type Pipeline interface {
	Start(audioOnly bool) error
	Stop() error

	SetVideoBitrate(kbps int)
	SetAudioBitrate(bps int)
	SetFramerate(fps int)
	SendRemoteResolution(res string)

	// SetICEServers replaces the pipeline's STUN/TURN server list. The
	// list is folded into the next offer, so it must be delivered before
	// Start for the first negotiation to carry it.
	SetICEServers(stun, turn []string)
	// AddTurnServer pushes one relay URI into a live pipeline without
	// renegotiating existing ICE candidates.
	AddTurnServer(uri string)

	SendCursorData(data json.RawMessage)
	SendGPUStats(load, memoryTotal, memoryUsed float64)
	SendSystemStats(cpuPercent, memTotal, memUsed float64)
	SendPing(t time.Time)
	SendLatency(ms float64)

	SetSDP(desc webrtc.SessionDescription) error
	SetICE(candidate webrtc.ICECandidateInit) error
}

// Events receives negotiation output produced by the pipeline. Sinks are
// registered at construction; handlers run on the pipeline's reader
// goroutine.
type Events interface {
	OnSDP(desc webrtc.SessionDescription)
	OnICE(candidate webrtc.ICECandidateInit)
}
