package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/roomlink/roomlink/internal/proto"
)

// fakeSignaler records frames the coordinator sends.
type fakeSignaler struct {
	mu     sync.Mutex
	frames []*proto.Frame
}

func (s *fakeSignaler) Send(f *proto.Frame) bool {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return true
}

func (s *fakeSignaler) ofType(typ string) []*proto.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*proto.Frame
	for _, f := range s.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

// fakeMedia builds capture-free receive-only peer connections.
type fakeMedia struct{}

func (fakeMedia) NewPeerConnection(tag string) (*webrtc.PeerConnection, func(), error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return nil, nil, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return nil, nil, err
	}
	return pc, nil, nil
}

func (fakeMedia) ScreenTrack(tag string) (webrtc.TrackLocal, func(), error) {
	return nil, nil, errors.New("no display capture in tests")
}

func newTestManager(t *testing.T) (*Manager, *fakeSignaler) {
	t.Helper()
	sig := &fakeSignaler{}
	m := New("room-1", "me", sig, fakeMedia{})
	t.Cleanup(m.Close)
	return m, sig
}

// remoteOffer produces a real SDP offer frame as a remote participant would
// send it.
func remoteOffer(t *testing.T, senderID string) *proto.Frame {
	t.Helper()
	pc, _, err := fakeMedia{}.NewPeerConnection("remote")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		t.Fatal(err)
	}
	f := proto.NewSignal(proto.TypeOffer, "room-1", senderID, "me")
	f.Offer = raw
	return f
}

func candidateFrame(senderID string, port int) *proto.Frame {
	f := proto.NewSignal(proto.TypeICECandidate, "room-1", senderID, "me")
	cand := fmt.Sprintf("candidate:1 1 UDP 2122252543 192.168.1.10 %d typ host", port)
	f.Candidate = json.RawMessage(fmt.Sprintf(`{"candidate":%q,"sdpMid":"0","sdpMLineIndex":0}`, cand))
	return f
}

func TestStartCallSendsOffer(t *testing.T) {
	m, sig := newTestManager(t)

	if err := m.StartCall("u2"); err != nil {
		t.Fatal(err)
	}

	offers := sig.ofType(proto.TypeOffer)
	if len(offers) != 1 {
		t.Fatalf("offers = %d, want 1", len(offers))
	}
	f := offers[0]
	if f.SenderUserID != "me" || f.TargetUserID != "u2" || len(f.Offer) == 0 {
		t.Errorf("offer frame = %+v, want addressed me->u2 with SDP", f)
	}
	if state, ok := m.EntryState("u2"); !ok || state != StateOfferSent {
		t.Errorf("state = %s, want %s", state, StateOfferSent)
	}
}

func TestInboundOfferProducesAnswer(t *testing.T) {
	m, sig := newTestManager(t)

	m.HandleSignal("u2", remoteOffer(t, "u2"))

	answers := sig.ofType(proto.TypeAnswer)
	if len(answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(answers))
	}
	if answers[0].TargetUserID != "u2" || len(answers[0].Answer) == 0 {
		t.Errorf("answer frame = %+v, want addressed to u2 with SDP", answers[0])
	}
	if state, ok := m.EntryState("u2"); !ok || state != StateAnswered {
		t.Errorf("state = %s, want %s", state, StateAnswered)
	}
}

func TestEarlyCandidatesFlushInArrivalOrder(t *testing.T) {
	m, _ := newTestManager(t)

	// Candidates racing ahead of the offer are a legitimate arrival order.
	m.HandleSignal("u2", candidateFrame("u2", 50000))
	m.HandleSignal("u2", candidateFrame("u2", 50001))

	status := m.Status()
	if len(status) != 1 || status[0].QueuedCands != 2 {
		t.Fatalf("status = %+v, want one entry with 2 queued candidates", status)
	}
	if len(status[0].AppliedCands) != 0 {
		t.Fatalf("applied = %v before the remote description, want none", status[0].AppliedCands)
	}

	m.HandleSignal("u2", remoteOffer(t, "u2"))
	// A candidate landing after the flush is applied directly, behind the
	// queued ones.
	m.HandleSignal("u2", candidateFrame("u2", 50002))

	status = m.Status()
	if status[0].QueuedCands != 0 {
		t.Errorf("queued = %d, want 0 after the remote description flushed them", status[0].QueuedCands)
	}
	want := []string{
		"candidate:1 1 UDP 2122252543 192.168.1.10 50000 typ host",
		"candidate:1 1 UDP 2122252543 192.168.1.10 50001 typ host",
		"candidate:1 1 UDP 2122252543 192.168.1.10 50002 typ host",
	}
	got := status[0].AppliedCands
	if len(got) != len(want) {
		t.Fatalf("applied = %v, want all 3 candidates applied", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("applied[%d] = %q, want %q (original arrival order)", i, got[i], want[i])
		}
	}
}

func TestAnswerFromUnknownParticipantIgnored(t *testing.T) {
	m, _ := newTestManager(t)

	f := proto.NewSignal(proto.TypeAnswer, "room-1", "u9", "me")
	f.Answer = json.RawMessage(`{"type":"answer","sdp":""}`)
	m.HandleSignal("u9", f)

	if len(m.Status()) != 0 {
		t.Error("answer without an offer created an entry")
	}
}

func TestRemoteHangupClosesEntry(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.StartCall("u2"); err != nil {
		t.Fatal(err)
	}

	m.HandleSignal("u2", proto.NewSignal(proto.TypeCallHangup, "room-1", "u2", "me"))

	if _, ok := m.EntryState("u2"); ok {
		t.Error("entry still present after remote hangup")
	}
}

func TestEndCallSendsHangup(t *testing.T) {
	m, sig := newTestManager(t)
	if err := m.StartCall("u2"); err != nil {
		t.Fatal(err)
	}

	m.EndCall("u2")

	if got := len(sig.ofType(proto.TypeCallHangup)); got != 1 {
		t.Errorf("hangup frames = %d, want 1", got)
	}
	if _, ok := m.EntryState("u2"); ok {
		t.Error("entry still present after EndCall")
	}
}

func TestForceOfferRenegotiatesFromScratch(t *testing.T) {
	m, sig := newTestManager(t)
	if err := m.StartCall("u2"); err != nil {
		t.Fatal(err)
	}

	if err := m.ForceOffer("u2"); err != nil {
		t.Fatal(err)
	}

	if got := len(sig.ofType(proto.TypeOffer)); got != 2 {
		t.Errorf("offers = %d, want 2 (retry sends a fresh offer)", got)
	}
	status := m.Status()
	if len(status) != 1 || status[0].ConnectionGens < 2 {
		t.Errorf("status = %+v, want one entry past its first connection generation", status)
	}
}

func TestRemoteScreenShareEventsSurface(t *testing.T) {
	m, _ := newTestManager(t)
	events, cancel := m.Subscribe()
	defer cancel()

	m.HandleSignal("u2", proto.NewSignal(proto.TypeScreenShareStart, "room-1", "u2", ""))

	evt := <-events
	if evt.Kind != EventRemoteScreenShare || evt.ParticipantID != "u2" || !evt.Sharing {
		t.Errorf("got %+v, want remote screen share start from u2", evt)
	}

	m.HandleSignal("u2", proto.NewSignal(proto.TypeScreenShareStop, "room-1", "u2", ""))
	evt = <-events
	if evt.Sharing {
		t.Error("stop event still reports sharing")
	}
}

func TestScreenShareWithoutOutboundVideoFails(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.StartCall("u2"); err != nil {
		t.Fatal(err)
	}

	// Receive-only entries have no video sender track to replace.
	if err := m.StartScreenShare("u2"); err == nil {
		t.Error("screen share succeeded without an outbound video track")
	}
}

func TestControlsWithoutEntryReturnError(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.StartScreenShare("ghost"); err == nil {
		t.Error("screen share on missing entry succeeded")
	}
	if err := m.SetAudioMuted("ghost", true); err == nil {
		t.Error("mute on missing entry succeeded")
	}
}
