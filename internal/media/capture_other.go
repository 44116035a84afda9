//go:build !linux || !cgo

package media

import (
	"log"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

func logf(tag, format string, args ...any) {
	log.Printf("MEDIA ["+tag+"]: "+format, args...)
}

// initPC creates a receive-only peer connection on non-Linux platforms.
// Camera/mic capture via pion/mediadevices requires platform-specific
// drivers (V4L2/malgo on Linux); elsewhere calls receive remote media only.
func (e *Engine) initPC(tag string) (*webrtc.PeerConnection, func(), error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(e.iceConfig())
	if err != nil {
		return nil, nil, err
	}

	addRecvOnlyTransceivers(tag, pc)
	log.Printf("MEDIA [%s]: peer connection ready (receive-only, no local capture on this platform)", tag)
	return pc, nil, nil
}

func (e *Engine) screenTrack(string) (webrtc.TrackLocal, func(), error) {
	return nil, nil, ErrScreenCaptureUnsupported
}
