package session

import "github.com/krishijyoti/voicebridge/internal/upstream"

// Kind tags an Event.
type Kind int

const (
	KindAudioChunk Kind = iota
	KindAudioComplete
	KindTranscript
	KindStatusChange
	KindError
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindAudioChunk:
		return "audio_chunk"
	case KindAudioComplete:
		return "audio_complete"
	case KindTranscript:
		return "transcript"
	case KindStatusChange:
		return "status_change"
	case KindError:
		return "error"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is something the agent reported, in the order it reported it.
// Only the fields for its Kind are set.
type Event struct {
	Kind   Kind
	Audio  []byte        // KindAudioChunk
	Role   upstream.Role // KindTranscript
	Text   string        // KindTranscript
	Status State         // KindStatusChange
	Err    error         // KindError, KindClosed (may be nil)
}
