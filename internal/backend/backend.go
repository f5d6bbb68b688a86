// Package backend implements the interview backend protocol: a single
// POST-style exchange per interaction that drives the interviewer side of a
// session.
//
// Each request carries the script ID, the client-generated session ID, and an
// action (start, chat, end). Successful responses return the interviewer's
// next message together with the updated phase and progress; chat responses
// may additionally signal completion.
//
// Two implementations are provided: [HTTPClient] talks to a remote backend
// service, and [Local] generates interviewer messages in-process with an LLM
// for development and testing without a deployment.
package backend

import (
	"context"
	"fmt"
)

// Action enumerates the protocol actions.
type Action string

const (
	ActionStart Action = "start"
	ActionChat  Action = "chat"
	ActionEnd   Action = "end"
)

// Request is the wire format of one backend call.
type Request struct {
	ScriptID  string `json:"scriptId"`
	SessionID string `json:"sessionId"`
	Action    Action `json:"action"`

	// UserMessage is the candidate's submitted turn. Only set for chat.
	UserMessage string `json:"userMessage,omitempty"`
}

// Response is the wire format of a backend reply.
type Response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Progress  int    `json:"progress,omitempty"`
	Completed bool   `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Reply is a successful backend exchange as consumed by the engine.
//
// Replies are normalized at the protocol boundary: a completed reply always
// carries Progress == 100, because the authoritative completion signal is
// Completed, not Progress.
type Reply struct {
	// Message is the interviewer's next utterance.
	Message string

	// Phase is the interview phase reported by the backend
	// (greeting, questioning, deep_dive, closing).
	Phase string

	// Progress is the interview progress percentage (0–100).
	Progress int

	// Completed reports that the interview is over. Only chat replies set it.
	Completed bool
}

// RemoteError is a backend reply with success == false. The engine surfaces
// its message and returns the session to a recoverable state.
type RemoteError struct {
	// Msg is the human-readable error string from the backend.
	Msg string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("backend: %s", e.Msg)
}

// Client is the abstraction over the interview backend.
//
// Implementations must be safe for concurrent use. The engine guarantees at
// most one outstanding call per session, but distinct sessions may call
// concurrently.
type Client interface {
	// Start begins a new interview attempt and returns the opening reply.
	Start(ctx context.Context, scriptID, sessionID string) (*Reply, error)

	// Chat submits the candidate's turn and returns the interviewer's reply.
	Chat(ctx context.Context, scriptID, sessionID, userMessage string) (*Reply, error)

	// End notifies the backend that the session was terminated. End is
	// best-effort; the engine logs failures but never fails on them.
	End(ctx context.Context, scriptID, sessionID string) error
}

// normalize converts a successful wire response into a Reply, forcing
// Progress to 100 on completion and clamping it into [0, 100].
func normalize(resp *Response) *Reply {
	r := &Reply{
		Message:   resp.Message,
		Phase:     resp.Phase,
		Progress:  resp.Progress,
		Completed: resp.Completed,
	}
	if r.Completed {
		r.Progress = 100
	}
	if r.Progress < 0 {
		r.Progress = 0
	}
	if r.Progress > 100 {
		r.Progress = 100
	}
	return r
}
