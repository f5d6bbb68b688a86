package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// Interview phases reported by the backend protocol.
const (
	PhaseGreeting    = "greeting"
	PhaseQuestioning = "questioning"
	PhaseDeepDive    = "deep_dive"
	PhaseClosing     = "closing"
)

// localTotalTurns is how many candidate turns a local interview runs before
// the closing reply completes it.
const localTotalTurns = 8

const localSystemPrompt = `You are a professional job interviewer conducting a
spoken screening interview (script %q). Ask one question at a time, keep every
reply under three sentences, and speak naturally — your words are synthesized
to audio. Current phase: %s.`

// Completer produces one assistant reply for a running conversation. It is
// the narrow LLM surface [Local] depends on, so tests can script replies.
type Completer interface {
	Complete(ctx context.Context, system string, turns []anyllmlib.Message) (string, error)
}

// anyllmCompleter adapts an any-llm-go provider to Completer.
type anyllmCompleter struct {
	backend anyllmlib.Provider
	model   string
}

// Complete sends the system prompt plus conversation and returns the
// assistant's text.
func (c *anyllmCompleter) Complete(ctx context.Context, system string, turns []anyllmlib.Message) (string, error) {
	messages := make([]anyllmlib.Message, 0, len(turns)+1)
	messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: system})
	messages = append(messages, turns...)

	resp, err := c.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("backend: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("backend: empty choices in completion response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// NewCompleter creates a Completer backed by the named any-llm-go provider.
// providerName is one of "openai", "anthropic", "ollama".
func NewCompleter(providerName, model string, opts ...anyllmlib.Option) (Completer, error) {
	if model == "" {
		return nil, fmt.Errorf("backend: model must not be empty")
	}
	var (
		be  anyllmlib.Provider
		err error
	)
	switch strings.ToLower(providerName) {
	case "openai":
		be, err = anyllmoai.New(opts...)
	case "anthropic":
		be, err = anthropic.New(opts...)
	case "ollama":
		be, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("backend: unsupported llm provider %q; supported: openai, anthropic, ollama", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("backend: create %q llm provider: %w", providerName, err)
	}
	return &anyllmCompleter{backend: be, model: model}, nil
}

// Local is an in-process interview backend for development and testing
// without a remote deployment: an LLM plays the interviewer, and phase and
// progress advance on a fixed turn schedule.
//
// Safe for concurrent use across sessions.
type Local struct {
	completer Completer
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*localSession
}

// localSession holds the per-session conversation the protocol itself keeps
// stateless.
type localSession struct {
	scriptID string
	turns    int // completed candidate turns
	history  []anyllmlib.Message
}

// NewLocal creates a Local backend driven by completer.
func NewLocal(completer Completer, log *slog.Logger) *Local {
	if log == nil {
		log = slog.Default()
	}
	return &Local{
		completer: completer,
		log:       log,
		sessions:  make(map[string]*localSession),
	}
}

// Start implements Client: it opens a session and asks the LLM for the
// greeting.
func (l *Local) Start(ctx context.Context, scriptID, sessionID string) (*Reply, error) {
	sess := &localSession{scriptID: scriptID}

	text, err := l.complete(ctx, sess, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: "(The candidate has just joined the call. Greet them and ask them to introduce themselves.)",
	})
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.sessions[sessionID] = sess
	l.mu.Unlock()

	return &Reply{Message: text, Phase: PhaseGreeting, Progress: progressFor(0)}, nil
}

// Chat implements Client: it folds the candidate's turn into the
// conversation and returns the interviewer's next message.
func (l *Local) Chat(ctx context.Context, scriptID, sessionID, userMessage string) (*Reply, error) {
	l.mu.Lock()
	sess, ok := l.sessions[sessionID]
	l.mu.Unlock()
	if !ok {
		return nil, &RemoteError{Msg: fmt.Sprintf("unknown session %q", sessionID)}
	}

	text, err := l.complete(ctx, sess, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: userMessage,
	})
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	sess.turns++
	turns := sess.turns
	l.mu.Unlock()

	reply := &Reply{
		Message:  text,
		Phase:    phaseFor(turns),
		Progress: progressFor(turns),
	}
	if turns >= localTotalTurns {
		reply.Completed = true
		reply.Progress = 100
	}
	return reply, nil
}

// End implements Client: it discards the session state.
func (l *Local) End(_ context.Context, _ string, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
	return nil
}

// complete runs one LLM exchange and appends both sides to the session
// history.
func (l *Local) complete(ctx context.Context, sess *localSession, user anyllmlib.Message) (string, error) {
	l.mu.Lock()
	turns := make([]anyllmlib.Message, len(sess.history)+1)
	copy(turns, sess.history)
	turns[len(turns)-1] = user
	system := fmt.Sprintf(localSystemPrompt, sess.scriptID, phaseFor(sess.turns))
	l.mu.Unlock()

	text, err := l.completer.Complete(ctx, system, turns)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	sess.history = append(sess.history, user, anyllmlib.Message{
		Role:    anyllmlib.RoleAssistant,
		Content: text,
	})
	l.mu.Unlock()
	return text, nil
}

// phaseFor maps a completed-turn count onto the interview phase schedule.
func phaseFor(turns int) string {
	switch {
	case turns < 1:
		return PhaseGreeting
	case turns < 4:
		return PhaseQuestioning
	case turns < 6:
		return PhaseDeepDive
	default:
		return PhaseClosing
	}
}

// progressFor maps a completed-turn count onto a 0–100 percentage.
func progressFor(turns int) int {
	p := 10 + turns*90/localTotalTurns
	if p > 100 {
		p = 100
	}
	return p
}

// Ensure Local implements Client at compile time.
var _ Client = (*Local)(nil)
