//go:build linux && cgo

package media

import (
	"log"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

func logf(tag, format string, args ...any) {
	log.Printf("MEDIA ["+tag+"]: "+format, args...)
}

// codecSelector builds the VP8+Opus selector shared by camera and screen
// capture.
func codecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// initPC creates a peer connection with VP8+Opus codecs and attempts to
// capture local camera/mic via pion/mediadevices (V4L2 + malgo on Linux).
func (e *Engine) initPC(tag string) (*webrtc.PeerConnection, func(), error) {
	selector, err := codecSelector()
	if err != nil {
		return nil, nil, err
	}

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	// Generous ICE timeouts so a brief relay/NAT hiccup does not immediately
	// terminate the call. The default disconnectedTimeout of 5 s is too
	// short for relay paths with short outages during re-keying.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(e.iceConfig())
	if err != nil {
		return nil, nil, err
	}

	if e.cfg.VideoDisabled {
		addRecvOnlyTransceivers(tag, pc)
		logf(tag, "local capture disabled by config, receive-only")
		return pc, nil, nil
	}

	// GetUserMedia fails as a unit if either track (video OR audio) can't be
	// opened. Try video+audio first, then video-only, then audio-only so a
	// missing/busy microphone doesn't prevent the camera from working and
	// vice versa.
	type attempt struct {
		video bool
		audio bool
		label string
	}
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Exclude MJPEG — some cameras expose an MJPEG V4L2 node
				// producing malformed JPEG frames that poison the VP8
				// encoder. Raw formats only.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
				if e.cfg.PreferredCam != "" {
					c.DeviceID = prop.StringExact(e.cfg.PreferredCam)
				}
			}
		}
		if a.audio {
			constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
				if e.cfg.PreferredMic != "" {
					c.DeviceID = prop.StringExact(e.cfg.PreferredMic)
				}
			}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logf(tag, "GetUserMedia (%s) failed: %v", a.label, err)
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					logf(tag, "local track ended: %v", err)
				}
			})
			if _, err := pc.AddTrack(track); err != nil {
				logf(tag, "AddTrack error: %v", err)
			}
		}

		logf(tag, "local media captured (%s), %d tracks", a.label, len(tracks))
		closeFn := func() {
			for _, t := range tracks {
				t.Close()
			}
		}
		return pc, closeFn, nil
	}

	// All attempts failed: the call can still receive remote media even
	// without local camera/mic.
	logf(tag, "all media capture attempts failed, proceeding receive-only")
	addRecvOnlyTransceivers(tag, pc)
	return pc, nil, nil
}

// screenTrack captures the display as a VP8 video track.
func (e *Engine) screenTrack(tag string) (webrtc.TrackLocal, func(), error) {
	selector, err := codecSelector()
	if err != nil {
		return nil, nil, err
	}

	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, nil, err
	}

	videos := stream.GetVideoTracks()
	if len(videos) == 0 {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
		return nil, nil, ErrScreenCaptureUnsupported
	}

	track := videos[0]
	logf(tag, "screen capture started")
	return track, func() { track.Close() }, nil
}
