package call

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/roomlink/roomlink/internal/proto"
)

// keyframeInterval is how often a PLI is sent for each inbound video track
// so late joiners and loss recover quickly.
const keyframeInterval = 3 * time.Second

// Entry tracks the peer connection and negotiation state for one remote
// participant. Candidates that arrive before the remote description is set
// are queued per entry and flushed in arrival order once it is — dropping
// them loses connectivity on candidate/offer races.
type Entry struct {
	participantID string
	mgr           *Manager

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	cleanup   func() // local capture teardown, may be nil
	state     State
	remoteSet bool
	queued    []webrtc.ICECandidateInit
	applied   []string // candidate strings in application order, per connection
	gen       int      // connection generation; stale async callbacks no-op

	cameraTrack   webrtc.TrackLocal // original video sender track, restored after screen share
	audioTrack    webrtc.TrackLocal
	screenCleanup func()
	sharing       bool
	audioMuted    bool

	rtpPackets atomic.Uint64
	rtpBytes   atomic.Uint64
	rtpGaps    atomic.Uint64
}

func newEntry(participantID string, mgr *Manager) *Entry {
	return &Entry{participantID: participantID, mgr: mgr, state: StateIdle}
}

// State returns the entry's negotiation state.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns a diagnostic snapshot.
func (e *Entry) Status() EntryStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EntryStatus{
		ParticipantID:  e.participantID,
		State:          e.state,
		QueuedCands:    len(e.queued),
		AppliedCands:   append([]string(nil), e.applied...),
		RTPPackets:     e.rtpPackets.Load(),
		RTPBytes:       e.rtpBytes.Load(),
		RTPGaps:        e.rtpGaps.Load(),
		ScreenSharing:  e.sharing,
		ConnectionGens: e.gen,
	}
}

// startOffer drives the initiator flow: fresh peer connection, local
// description, offer frame out, state offer-sent.
func (e *Entry) startOffer() error {
	pc, gen, err := e.resetPC()
	if err != nil {
		return err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	raw, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		return err
	}
	f := proto.NewSignal(proto.TypeOffer, e.mgr.roomID, e.mgr.selfID, e.participantID)
	f.Offer = raw
	e.mgr.sig.Send(f)

	e.setState(gen, StateOfferSent)
	log.Printf("CALL [%s]: offer sent to %s", e.mgr.roomID, e.participantID)
	return nil
}

// handleOffer drives the responder flow. An offer arriving on a non-idle
// entry replaces the connection: the remote side decided to renegotiate
// from scratch.
func (e *Entry) handleOffer(f *proto.Frame) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(f.Offer, &desc); err != nil {
		log.Printf("CALL [%s]: undecodable offer from %s: %v", e.mgr.roomID, e.participantID, err)
		return
	}

	pc, gen, err := e.resetPC()
	if err != nil {
		log.Printf("CALL [%s]: peer connection for %s failed: %v", e.mgr.roomID, e.participantID, err)
		e.fail(gen)
		return
	}
	e.setState(gen, StateOfferReceived)

	if err := pc.SetRemoteDescription(desc); err != nil {
		log.Printf("CALL [%s]: set remote offer from %s failed: %v", e.mgr.roomID, e.participantID, err)
		e.fail(gen)
		return
	}
	e.flushCandidates(gen)

	answer, err := pc.CreateAnswer(nil)
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err != nil {
		log.Printf("CALL [%s]: answer for %s failed: %v", e.mgr.roomID, e.participantID, err)
		e.fail(gen)
		return
	}

	raw, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		e.fail(gen)
		return
	}
	out := proto.NewSignal(proto.TypeAnswer, e.mgr.roomID, e.mgr.selfID, e.participantID)
	out.Answer = raw
	e.mgr.sig.Send(out)

	e.setState(gen, StateAnswered)
	log.Printf("CALL [%s]: answered offer from %s", e.mgr.roomID, e.participantID)
}

// handleAnswer completes the initiator flow.
func (e *Entry) handleAnswer(f *proto.Frame) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(f.Answer, &desc); err != nil {
		log.Printf("CALL [%s]: undecodable answer from %s: %v", e.mgr.roomID, e.participantID, err)
		return
	}

	e.mu.Lock()
	pc := e.pc
	gen := e.gen
	if pc == nil || e.state != StateOfferSent {
		st := e.state
		e.mu.Unlock()
		log.Printf("CALL [%s]: answer from %s ignored in state %s", e.mgr.roomID, e.participantID, st)
		return
	}
	e.mu.Unlock()

	if err := pc.SetRemoteDescription(desc); err != nil {
		log.Printf("CALL [%s]: set remote answer from %s failed: %v", e.mgr.roomID, e.participantID, err)
		e.fail(gen)
		return
	}
	e.flushCandidates(gen)
}

// addCandidate applies a remote candidate, or queues it when the remote
// description is not set yet (a legitimate network race, not an error).
func (e *Entry) addCandidate(f *proto.Frame) {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(f.Candidate, &cand); err != nil {
		log.Printf("CALL [%s]: undecodable candidate from %s: %v", e.mgr.roomID, e.participantID, err)
		return
	}

	e.mu.Lock()
	if !e.remoteSet || e.pc == nil {
		e.queued = append(e.queued, cand)
		n := len(e.queued)
		e.mu.Unlock()
		log.Printf("CALL [%s]: queued early candidate #%d from %s", e.mgr.roomID, n, e.participantID)
		return
	}
	pc := e.pc
	gen := e.gen
	e.mu.Unlock()

	if err := pc.AddICECandidate(cand); err != nil {
		log.Printf("CALL [%s]: add candidate from %s failed: %v", e.mgr.roomID, e.participantID, err)
		return
	}
	e.recordApplied(gen, cand.Candidate)
}

// flushCandidates marks the remote description set and applies queued
// candidates in their original arrival order.
func (e *Entry) flushCandidates(gen int) {
	e.mu.Lock()
	if e.gen != gen || e.pc == nil {
		e.mu.Unlock()
		return
	}
	e.remoteSet = true
	queued := e.queued
	e.queued = nil
	pc := e.pc
	e.mu.Unlock()

	for i, cand := range queued {
		if err := pc.AddICECandidate(cand); err != nil {
			log.Printf("CALL [%s]: flush candidate %d/%d from %s failed: %v",
				e.mgr.roomID, i+1, len(queued), e.participantID, err)
			continue
		}
		e.recordApplied(gen, cand.Candidate)
	}
	if len(queued) > 0 {
		log.Printf("CALL [%s]: flushed %d queued candidates from %s", e.mgr.roomID, len(queued), e.participantID)
	}
}

// startScreenShare swaps the outbound video source to display capture with
// an in-place sender replacement. No renegotiation: the change is local to
// this side, and a full ICE restart would show a black-frame gap.
func (e *Entry) startScreenShare() error {
	e.mu.Lock()
	if e.sharing {
		e.mu.Unlock()
		return nil
	}
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("no active connection to %s", e.participantID)
	}

	sender := videoSender(pc)
	if sender == nil {
		return fmt.Errorf("no outbound video track to %s", e.participantID)
	}

	track, cleanup, err := e.mgr.media.ScreenTrack(e.mgr.roomID)
	if err != nil {
		return fmt.Errorf("screen capture: %w", err)
	}
	if err := sender.ReplaceTrack(track); err != nil {
		cleanup()
		return fmt.Errorf("replace track: %w", err)
	}

	e.mu.Lock()
	e.cameraTrack = sender.Track()
	e.screenCleanup = cleanup
	e.sharing = true
	e.mu.Unlock()

	e.mgr.sig.Send(proto.NewSignal(proto.TypeScreenShareStart, e.mgr.roomID, e.mgr.selfID, e.participantID))
	return nil
}

// stopScreenShare restores the camera track on the existing sender.
func (e *Entry) stopScreenShare() error {
	e.mu.Lock()
	if !e.sharing {
		e.mu.Unlock()
		return nil
	}
	pc := e.pc
	camera := e.cameraTrack
	cleanup := e.screenCleanup
	e.sharing = false
	e.screenCleanup = nil
	e.mu.Unlock()

	if pc != nil {
		if sender := videoSender(pc); sender != nil {
			if err := sender.ReplaceTrack(camera); err != nil {
				log.Printf("CALL [%s]: restore camera for %s failed: %v", e.mgr.roomID, e.participantID, err)
			}
		}
	}
	if cleanup != nil {
		cleanup()
	}

	e.mgr.sig.Send(proto.NewSignal(proto.TypeScreenShareStop, e.mgr.roomID, e.mgr.selfID, e.participantID))
	return nil
}

// setAudioMuted pauses or resumes the outbound audio sender in place.
func (e *Entry) setAudioMuted(muted bool) error {
	e.mu.Lock()
	pc := e.pc
	if e.audioMuted == muted {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("no active connection to %s", e.participantID)
	}

	sender := audioSender(pc)
	if sender == nil {
		return fmt.Errorf("no outbound audio track to %s", e.participantID)
	}

	if muted {
		e.mu.Lock()
		e.audioTrack = sender.Track()
		e.mu.Unlock()
		if err := sender.ReplaceTrack(nil); err != nil {
			return err
		}
	} else {
		e.mu.Lock()
		saved := e.audioTrack
		e.mu.Unlock()
		if err := sender.ReplaceTrack(saved); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.audioMuted = muted
	e.mu.Unlock()
	log.Printf("CALL [%s]: audio muted=%v for %s", e.mgr.roomID, muted, e.participantID)
	return nil
}

// close tears the entry down. Idempotent.
func (e *Entry) close() {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	e.gen++
	pc := e.pc
	cleanup := e.cleanup
	screenCleanup := e.screenCleanup
	e.pc = nil
	e.cleanup = nil
	e.screenCleanup = nil
	e.remoteSet = false
	e.queued = nil
	e.applied = nil
	e.sharing = false
	e.state = StateClosed
	e.mu.Unlock()

	if screenCleanup != nil {
		screenCleanup()
	}
	if cleanup != nil {
		cleanup()
	}
	if pc != nil {
		_ = pc.Close()
	}
	e.mgr.notify(Event{Kind: EventState, ParticipantID: e.participantID, State: StateClosed})
}

// resetPC tears down any existing connection and creates a fresh one. Every
// forced offer recreates rather than reuses: ICE restart on a connection
// already in failed state behaves unreliably across implementations.
func (e *Entry) resetPC() (*webrtc.PeerConnection, int, error) {
	e.mu.Lock()
	old := e.pc
	oldCleanup := e.cleanup
	oldScreen := e.screenCleanup
	e.pc = nil
	e.cleanup = nil
	e.screenCleanup = nil
	e.remoteSet = false
	e.applied = nil
	e.sharing = false
	e.audioMuted = false
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	if oldScreen != nil {
		oldScreen()
	}
	if oldCleanup != nil {
		oldCleanup()
	}
	if old != nil {
		_ = old.Close()
	}

	pc, cleanup, err := e.mgr.media.NewPeerConnection(e.mgr.roomID)
	if err != nil {
		return nil, gen, fmt.Errorf("new peer connection: %w", err)
	}

	e.mu.Lock()
	if e.gen != gen {
		// A concurrent reset won; discard this connection.
		e.mu.Unlock()
		if cleanup != nil {
			cleanup()
		}
		_ = pc.Close()
		return nil, gen, fmt.Errorf("connection superseded during setup")
	}
	e.pc = pc
	e.cleanup = cleanup
	e.mu.Unlock()

	e.wireCallbacks(pc, gen)
	return pc, gen, nil
}

// wireCallbacks installs the async peer connection hooks. Every hook
// re-checks the generation before touching entry state, since nothing else
// guards against callbacks from a torn-down connection.
func (e *Entry) wireCallbacks(pc *webrtc.PeerConnection, gen int) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || e.stale(gen) {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		// Each candidate goes out immediately as its own frame (trickle),
		// never batched.
		f := proto.NewSignal(proto.TypeICECandidate, e.mgr.roomID, e.mgr.selfID, e.participantID)
		f.Candidate = raw
		e.mgr.sig.Send(f)
	})

	pc.OnConnectionStateChange(func(cs webrtc.PeerConnectionState) {
		if e.stale(gen) {
			return
		}
		switch cs {
		case webrtc.PeerConnectionStateConnected:
			e.setState(gen, StateConnected)
			log.Printf("CALL [%s]: connected to %s", e.mgr.roomID, e.participantID)
		case webrtc.PeerConnectionStateFailed:
			// Surfaced as a persistent state; retry is a user action.
			e.fail(gen)
			log.Printf("CALL [%s]: connection to %s failed", e.mgr.roomID, e.participantID)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("CALL [%s]: remote %s track from %s", e.mgr.roomID, track.Kind(), e.participantID)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go e.keyframeLoop(pc, gen, uint32(track.SSRC()))
		}
		go e.drainTrack(gen, track)
	})
}

// keyframeLoop periodically requests a keyframe for an inbound video track.
func (e *Entry) keyframeLoop(pc *webrtc.PeerConnection, gen int, ssrc uint32) {
	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()
	for range ticker.C {
		if e.stale(gen) {
			return
		}
		if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
			return
		}
	}
}

// drainTrack reads inbound RTP, keeping packet/byte counters for the debug
// surface. The media itself is consumed by the rendering collaborator.
func (e *Entry) drainTrack(gen int, track *webrtc.TrackRemote) {
	var prev *rtp.Packet
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if e.stale(gen) {
			return
		}
		e.rtpPackets.Add(1)
		e.rtpBytes.Add(uint64(len(pkt.Payload)))
		if prev != nil && pkt.SequenceNumber != prev.SequenceNumber+1 {
			e.rtpGaps.Add(1)
		}
		prev = pkt
	}
}

// recordApplied keeps the per-connection application order of remote
// candidates for the debug surface.
func (e *Entry) recordApplied(gen int, candidate string) {
	e.mu.Lock()
	if e.gen == gen {
		e.applied = append(e.applied, candidate)
	}
	e.mu.Unlock()
}

func (e *Entry) stale(gen int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen != gen
}

func (e *Entry) setState(gen int, s State) {
	e.mu.Lock()
	if e.gen != gen || e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	e.state = s
	e.mu.Unlock()
	e.mgr.notify(Event{Kind: EventState, ParticipantID: e.participantID, State: s})
}

func (e *Entry) fail(gen int) {
	e.setState(gen, StateFailed)
}

func videoSender(pc *webrtc.PeerConnection) *webrtc.RTPSender {
	return senderOfKind(pc, webrtc.RTPCodecTypeVideo)
}

func audioSender(pc *webrtc.PeerConnection) *webrtc.RTPSender {
	return senderOfKind(pc, webrtc.RTPCodecTypeAudio)
}

func senderOfKind(pc *webrtc.PeerConnection, kind webrtc.RTPCodecType) *webrtc.RTPSender {
	for _, s := range pc.GetSenders() {
		if t := s.Track(); t != nil && t.Kind() == kind {
			return s
		}
	}
	return nil
}
