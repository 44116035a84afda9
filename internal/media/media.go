// Package media acquires local camera/microphone/screen tracks and builds
// configured peer connections around them. It is the only package that
// touches capture hardware; everything else consumes it through the
// call.Media boundary. Device failures here are permission/device errors:
// surfaced once, and the affected capability is disabled rather than
// retried in a loop.
package media

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrScreenCaptureUnsupported is returned where no display capture driver
// exists for the platform.
var ErrScreenCaptureUnsupported = errors.New("screen capture not supported on this platform")

// Config selects capture devices and ICE servers.
type Config struct {
	ICEServers    []string
	PreferredCam  string
	PreferredMic  string
	VideoDisabled bool // skip local capture entirely, calls are receive-only
}

// Engine builds peer connections with local media attached.
type Engine struct {
	cfg Config
}

// New creates an Engine. No devices are opened until a call starts.
func New(cfg Config) *Engine {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	return &Engine{cfg: cfg}
}

// NewPeerConnection returns a peer connection with local tracks attached
// when capture succeeds, falling back to receive-only, plus a cleanup func
// for local capture (may be nil).
func (e *Engine) NewPeerConnection(tag string) (*webrtc.PeerConnection, func(), error) {
	return e.initPC(tag)
}

// ScreenTrack returns a display-capture video track for in-place sender
// replacement, plus its cleanup func.
func (e *Engine) ScreenTrack(tag string) (webrtc.TrackLocal, func(), error) {
	return e.screenTrack(tag)
}

func (e *Engine) iceConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: e.cfg.ICEServers}},
	}
}

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio so
// CreateOffer/CreateAnswer always produces valid m-lines with ICE credentials.
func addRecvOnlyTransceivers(tag string, pc *webrtc.PeerConnection) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		logf(tag, "AddTransceiver(video) error: %v", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		logf(tag, "AddTransceiver(audio) error: %v", err)
	}
}
