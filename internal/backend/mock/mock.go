// Package mock provides a scriptable test double for the backend.Client
// interface.
//
// Results for Chat are queued and popped per call; when the queue is empty a
// generic questioning reply is returned, so multi-turn tests only script the
// replies they assert on.
package mock

import (
	"context"
	"sync"

	"github.com/hirevoice/hirevoice/internal/backend"
)

// Result scripts the outcome of one backend call.
type Result struct {
	Reply *backend.Reply
	Err   error
}

// StartCall records one invocation of Client.Start.
type StartCall struct {
	ScriptID  string
	SessionID string
}

// ChatCall records one invocation of Client.Chat.
type ChatCall struct {
	ScriptID    string
	SessionID   string
	UserMessage string
}

// EndCall records one invocation of Client.End.
type EndCall struct {
	ScriptID  string
	SessionID string
}

// Client is a mock implementation of backend.Client.
type Client struct {
	mu sync.Mutex

	// StartResult is returned by every Start call.
	StartResult Result

	// ChatResults is a queue popped by successive Chat calls. When drained,
	// Chat returns a generic questioning reply.
	ChatResults []Result

	// EndErr is returned by End.
	EndErr error

	// Call records, in order.
	StartCalls []StartCall
	ChatCalls  []ChatCall
	EndCalls   []EndCall
}

// Start records the call and returns StartResult.
func (c *Client) Start(_ context.Context, scriptID, sessionID string) (*backend.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartCalls = append(c.StartCalls, StartCall{ScriptID: scriptID, SessionID: sessionID})
	return c.StartResult.Reply, c.StartResult.Err
}

// Chat records the call and pops the next scripted result.
func (c *Client) Chat(_ context.Context, scriptID, sessionID, userMessage string) (*backend.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ChatCalls = append(c.ChatCalls, ChatCall{ScriptID: scriptID, SessionID: sessionID, UserMessage: userMessage})
	if len(c.ChatResults) > 0 {
		r := c.ChatResults[0]
		c.ChatResults = c.ChatResults[1:]
		return r.Reply, r.Err
	}
	return &backend.Reply{Message: "Tell me more.", Phase: "questioning", Progress: 50}, nil
}

// End records the call and returns EndErr.
func (c *Client) End(_ context.Context, scriptID, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndCalls = append(c.EndCalls, EndCall{ScriptID: scriptID, SessionID: sessionID})
	return c.EndErr
}

// Chats returns a snapshot of recorded Chat calls.
func (c *Client) Chats() []ChatCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatCall, len(c.ChatCalls))
	copy(out, c.ChatCalls)
	return out
}

// Ends returns a snapshot of recorded End calls.
func (c *Client) Ends() []EndCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EndCall, len(c.EndCalls))
	copy(out, c.EndCalls)
	return out
}

// Ensure Client implements backend.Client at compile time.
var _ backend.Client = (*Client)(nil)
