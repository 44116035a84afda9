package call

import "github.com/pion/webrtc/v4"

// State of one peer entry's negotiation.
type State string

const (
	StateIdle          State = "idle"
	StateOfferSent     State = "offer-sent"
	StateOfferReceived State = "offer-received"
	StateAnswered      State = "answered"
	StateConnected     State = "connected"
	StateFailed        State = "failed"
	StateClosed        State = "closed"
)

// Media is the local-capture surface the coordinator needs. The concrete
// implementation lives in internal/media; tests substitute a capture-free
// one.
type Media interface {
	// NewPeerConnection returns a configured peer connection with local
	// tracks attached (or receive-only), plus a capture cleanup func that
	// may be nil.
	NewPeerConnection(tag string) (*webrtc.PeerConnection, func(), error)

	// ScreenTrack returns a display-capture video track and its cleanup.
	ScreenTrack(tag string) (webrtc.TrackLocal, func(), error)
}

// Event kinds emitted by the coordinator.
const (
	EventState             = "state"
	EventRemoteScreenShare = "remote_screen_share"
)

// Event is surfaced to the UI layer. A failed State is persistent: the
// coordinator never auto-retries, recovery is the user's forced offer.
type Event struct {
	Kind          string
	ParticipantID string
	State         State // for EventState
	Sharing       bool  // for EventRemoteScreenShare
}

// EntryStatus is a diagnostic snapshot of one peer entry.
type EntryStatus struct {
	ParticipantID  string   `json:"participant_id"`
	State          State    `json:"state"`
	QueuedCands    int      `json:"queued_candidates"`
	AppliedCands   []string `json:"applied_candidates"`
	RTPPackets     uint64   `json:"rtp_packets"`
	RTPBytes       uint64   `json:"rtp_bytes"`
	RTPGaps        uint64   `json:"rtp_gaps"`
	ScreenSharing  bool     `json:"screen_sharing"`
	ConnectionGens int      `json:"connection_generations"`
}
