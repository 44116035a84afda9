package chat

import (
	"time"

	"github.com/roomlink/roomlink/internal/proto"
)

// Matcher decides which pending local message an inbound echo without a
// correlation id confirms. It exists as an interface so a backend that
// always echoes correlation ids can disable the heuristic entirely without
// touching reconciler call sites.
type Matcher interface {
	// Match returns the client id of the confirmed pending message, or ""
	// when none matches.
	Match(pending []*Message, f *proto.Frame) string
}

// HeuristicMatcher matches by author, text, and echo timestamp proximity.
// Best-effort compatibility path for backends that do not echo correlation
// ids. When two identical pending messages fall inside the window the first
// in window order wins; there is no principled tie-break for that case.
type HeuristicMatcher struct {
	// Slack is the maximum distance between the echo timestamp and the
	// pending message's creation timestamp.
	Slack time.Duration
}

// DefaultSlack is the reference matching window.
const DefaultSlack = 2000 * time.Millisecond

func (h HeuristicMatcher) Match(pending []*Message, f *proto.Frame) string {
	slack := h.Slack
	if slack <= 0 {
		slack = DefaultSlack
	}
	ts := f.Timestamp
	if ts == 0 {
		ts = proto.NowMillis()
	}
	for _, m := range pending {
		if m.Sender != f.Sender || m.Text != f.Message {
			continue
		}
		d := ts - m.Timestamp
		if d < 0 {
			d = -d
		}
		if d <= slack.Milliseconds() {
			return m.ClientID
		}
	}
	return ""
}

// StrictMatcher never matches: only correlation ids confirm messages.
type StrictMatcher struct{}

func (StrictMatcher) Match([]*Message, *proto.Frame) string { return "" }
