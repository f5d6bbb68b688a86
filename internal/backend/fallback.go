package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hirevoice/hirevoice/internal/resilience"
)

// Fallback chains two backend clients: a primary (typically the remote HTTP
// backend) and a secondary (typically the in-process LLM backend). Start tries
// the primary first and falls back when it is unreachable or its circuit
// breaker is open; the session is then pinned to whichever client answered, so
// every later Chat and End for that session goes to the same backend.
//
// Application-level rejections ([RemoteError]) never trigger a fallback: the
// backend answered, it just said no.
type Fallback struct {
	group   *resilience.FallbackGroup[Client]
	primary Client
	log     *slog.Logger

	mu     sync.Mutex
	owners map[string]Client
}

// NewFallback builds a Fallback over primary and secondary.
func NewFallback(primary, secondary Client, log *slog.Logger) *Fallback {
	if log == nil {
		log = slog.Default()
	}
	g := resilience.NewFallbackGroup("backend-primary", primary, resilience.Config{})
	g.Add("backend-fallback", secondary)
	return &Fallback{
		group:   g,
		primary: primary,
		log:     log,
		owners:  make(map[string]Client),
	}
}

// Start begins the interview on the first healthy backend and pins the
// session to it.
func (f *Fallback) Start(ctx context.Context, scriptID, sessionID string) (*Reply, error) {
	var (
		reply  *Reply
		winner Client
		remote *RemoteError
	)
	err := f.group.Execute(func(c Client) error {
		r, err := c.Start(ctx, scriptID, sessionID)
		var re *RemoteError
		if errors.As(err, &re) {
			remote = re
			return nil
		}
		if err != nil {
			return err
		}
		reply, winner = r, c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if remote != nil {
		return nil, remote
	}

	f.mu.Lock()
	f.owners[sessionID] = winner
	f.mu.Unlock()
	if winner != f.primary {
		f.log.Warn("interview started on fallback backend", "session_id", sessionID)
	}
	return reply, nil
}

// Chat routes the turn to the backend that owns the session.
func (f *Fallback) Chat(ctx context.Context, scriptID, sessionID, userMessage string) (*Reply, error) {
	return f.owner(sessionID).Chat(ctx, scriptID, sessionID, userMessage)
}

// End notifies the owning backend and releases the session pin.
func (f *Fallback) End(ctx context.Context, scriptID, sessionID string) error {
	f.mu.Lock()
	c, ok := f.owners[sessionID]
	delete(f.owners, sessionID)
	f.mu.Unlock()
	if !ok {
		c = f.primary
	}
	return c.End(ctx, scriptID, sessionID)
}

func (f *Fallback) owner(sessionID string) Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.owners[sessionID]; ok {
		return c
	}
	return f.primary
}

var _ Client = (*Fallback)(nil)
