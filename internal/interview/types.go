// Package interview implements the conversational interview engine: a
// turn-taking state machine that orchestrates speech recognition, speech
// synthesis, silence-based end-of-turn detection, and the interview backend
// exchange for one candidate session.
//
// A [Session] owns its collaborators — a recognizer provider, a synthesizer
// provider, a backend client, and its timers — and publishes observable state
// through a single event stream. The out-of-process UI only consumes events
// and issues manual overrides (text submission, skip, end).
package interview

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State enumerates the session's operating modes. Exactly one State holds at
// any instant.
type State int

const (
	// StateIdle is the initial state and the state after a failed start.
	StateIdle State = iota

	// StateProcessing means a backend call is outstanding. No new listen or
	// speak cycle may begin while processing.
	StateProcessing

	// StateSpeaking means an interviewer utterance is being synthesized, or
	// the post-utterance grace delay is running.
	StateSpeaking

	// StateAwaitingUserSpeech means the engine is accumulating candidate
	// transcript fragments (or waiting for manual text input).
	StateAwaitingUserSpeech

	// StateCompleted is terminal: the backend signalled interview completion.
	StateCompleted

	// StateEnded is terminal: the session was explicitly aborted.
	StateEnded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateAwaitingUserSpeech:
		return "awaiting_user_speech"
	case StateCompleted:
		return "completed"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// terminal reports whether no further transitions are possible.
func (s State) terminal() bool {
	return s == StateCompleted || s == StateEnded
}

// Speaker identifies the author of a conversation turn.
type Speaker string

const (
	// SpeakerInterviewer marks turns authored by the AI interviewer.
	SpeakerInterviewer Speaker = "interviewer"

	// SpeakerCandidate marks turns authored by the human candidate.
	SpeakerCandidate Speaker = "candidate"
)

// TurnMessage is one entry of the conversation history. History is
// append-only; messages are never reordered or mutated after insertion.
type TurnMessage struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the externally observable session state at one instant.
//
// IsListening and IsSpeaking are never both true. IsProcessing excludes both.
type Snapshot struct {
	SessionID string `json:"sessionId"`
	State     State  `json:"-"`
	StateName string `json:"state"`
	Phase     string `json:"phase,omitempty"`
	Progress  int    `json:"progress"`

	IsListening  bool `json:"isListening"`
	IsSpeaking   bool `json:"isSpeaking"`
	IsProcessing bool `json:"isProcessing"`
}

// EventType discriminates session events.
type EventType string

const (
	// EventState carries a fresh Snapshot after a state transition.
	EventState EventType = "state"

	// EventTurn carries a newly appended TurnMessage.
	EventTurn EventType = "turn"

	// EventInterim carries the unconfirmed transcript of the in-progress
	// candidate turn. Each value replaces the previous one wholesale.
	EventInterim EventType = "interim"

	// EventError carries a surfaced session error. Errors never abort the
	// event stream; the session stays in a recoverable state.
	EventError EventType = "error"

	// EventCompleted signals that the interview finished. It is the last
	// event before the stream closes.
	EventCompleted EventType = "completed"
)

// Event is one entry of a session's published event stream. Only the fields
// relevant to Type are populated.
type Event struct {
	Type     EventType
	Snapshot Snapshot
	Turn     *TurnMessage
	Interim  string
	Err      error
}

// NewSessionID generates a session identifier unique per interview attempt:
// a random component plus a timestamp component, so collisions are
// practically impossible even across concurrent clients.
func NewSessionID() string {
	return fmt.Sprintf("%s-%d", uuid.NewString(), time.Now().UnixMilli())
}
