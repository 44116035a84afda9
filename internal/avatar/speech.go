package avatar

import "context"

// AudioChunk is one piece of synthesized speech audio.
type AudioChunk struct {
	PCM        []byte
	SampleRate int
	Final      bool
}

// Synthesizer turns text into speech audio. Implementations live outside
// this module; the client publishes mouth hints as chunks arrive. Speak
// returns a channel that is closed after the Final chunk, plus a cancel
// func that stops synthesis early.
type Synthesizer interface {
	Speak(ctx context.Context, text string) (<-chan AudioChunk, func(), error)
}

// Transcript is one recognized utterance from a participant's audio.
type Transcript struct {
	UserID string
	Text   string
	Final  bool
}

// Recognizer turns inbound call audio into transcripts. As with Synthesizer
// the implementation is a collaborator; this module only consumes the
// channel.
type Recognizer interface {
	Transcribe(ctx context.Context, userID string) (<-chan Transcript, func(), error)
}
