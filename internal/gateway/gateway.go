// Package gateway exposes the interview engine over a WebSocket.
//
// A client drives at most one interview per connection. Commands arrive as
// JSON text frames (start, text, fragment, skip, end) and captured microphone
// audio as binary frames. The gateway answers with JSON event frames (state,
// turn, interim, error, completed) mirroring the session's event stream, and
// with binary frames carrying synthesized interviewer audio.
//
// Besides the WebSocket endpoint the gateway serves /healthz, /readyz and
// /metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hirevoice/hirevoice/internal/archive"
	"github.com/hirevoice/hirevoice/internal/health"
	"github.com/hirevoice/hirevoice/internal/interview"
	"github.com/hirevoice/hirevoice/internal/observe"
)

// Archiver persists finished interviews. *archive.Store implements it.
type Archiver interface {
	Save(ctx context.Context, rec archive.Record) error
}

// endGrace bounds the backend end notification after a connection drops.
const endGrace = 10 * time.Second

// SessionFactory builds a session for one script, delivering synthesized
// audio chunks to sink.
type SessionFactory func(scriptID string, sink func(chunk []byte)) (*interview.Session, error)

// command is one inbound JSON frame.
type command struct {
	// Type is one of: start, text, fragment, skip, end.
	Type string `json:"type"`

	// ScriptID selects the interview script. Required for start.
	ScriptID string `json:"scriptId,omitempty"`

	// Text carries the payload of text and fragment commands.
	Text string `json:"text,omitempty"`
}

// frame is one outbound JSON frame. Only the fields relevant to Type are set.
// Interim is a pointer so that interim frames always carry the key, even when
// the text is empty: an empty interim is the "buffer cleared" signal.
type frame struct {
	Type    string                 `json:"type"`
	Session *interview.Snapshot    `json:"session,omitempty"`
	Turn    *interview.TurnMessage `json:"turn,omitempty"`
	Interim *string                `json:"interim,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithHealth sets the health handler registered on the gateway mux. Without
// it only a bare liveness probe is served.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithOriginPatterns sets the allowed WebSocket origins. Default: same origin
// only.
func WithOriginPatterns(patterns []string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithArchiver enables persistence of finished interviews.
func WithArchiver(a Archiver) Option {
	return func(s *Server) { s.archiver = a }
}

// Server accepts interview WebSocket connections. Create with [NewServer]
// and mount via [Server.Handler].
type Server struct {
	newSession SessionFactory
	health     *health.Handler
	archiver   Archiver
	origins    []string
	log        *slog.Logger
}

// NewServer creates a gateway that builds interview sessions with newSession.
func NewServer(newSession SessionFactory, opts ...Option) (*Server, error) {
	if newSession == nil {
		return nil, errors.New("gateway: session factory must not be nil")
	}
	s := &Server{
		newSession: newSession,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}
	return s, nil
}

// Handler returns the gateway's HTTP routes: the interview WebSocket on
// /v1/interview, health probes, and Prometheus metrics on /metrics. All
// routes are wrapped in the request-duration middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/interview", s.handleInterview)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// handleInterview upgrades the connection and runs it until either side
// closes. A still-running interview is ended when the connection drops.
func (s *Server) handleInterview(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	c := &client{
		conn:     conn,
		out:      make(chan outbound, 64),
		archiver: s.archiver,
		log:      s.log.With("remote", r.RemoteAddr),
	}
	c.manager = interview.NewManager(func(scriptID string) (*interview.Session, error) {
		return s.newSession(scriptID, c.sendAudio)
	})

	c.log.Info("interview connection opened")
	err = c.run(r.Context())

	// The client vanishing mid-interview still ends the backend session.
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), endGrace)
	defer cancel()
	if endErr := c.manager.End(endCtx); endErr != nil {
		c.log.Warn("end on disconnect failed", "error", endErr)
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		err = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("interview connection closed", "error", err)
		return
	}
	c.log.Info("interview connection closed")
	conn.Close(websocket.StatusNormalClosure, "bye")
}

// outbound is one queued wire message: a JSON frame or a binary audio chunk.
type outbound struct {
	frame *frame
	audio []byte
}

// client is the per-connection state.
type client struct {
	conn     *websocket.Conn
	manager  *interview.Manager
	archiver Archiver
	out      chan outbound
	log      *slog.Logger
}

// run drives the read and write loops until one fails or ctx is cancelled.
func (c *client) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(ctx) })
	g.Go(func() error { return c.readLoop(ctx) })
	return g.Wait()
}

// writeLoop owns the connection's write side; all frames funnel through it.
func (c *client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ob := <-c.out:
			if ob.frame != nil {
				data, err := json.Marshal(ob.frame)
				if err != nil {
					return fmt.Errorf("gateway: marshal frame: %w", err)
				}
				if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
					return err
				}
				continue
			}
			if err := c.conn.Write(ctx, websocket.MessageBinary, ob.audio); err != nil {
				return err
			}
		}
	}
}

// readLoop dispatches inbound frames: binary frames feed the recognizer,
// text frames carry commands.
func (c *client) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}

		if typ == websocket.MessageBinary {
			sess := c.manager.Active()
			if sess == nil {
				continue
			}
			if err := sess.SendAudio(data); err != nil && !errors.Is(err, interview.ErrClosed) {
				c.log.Debug("audio forward failed", "error", err)
			}
			continue
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.sendError(ctx, fmt.Errorf("malformed command: %w", err))
			continue
		}
		c.dispatch(ctx, cmd)
	}
}

// dispatch executes one command. Rejections surface as error frames; they
// never close the connection.
func (c *client) dispatch(ctx context.Context, cmd command) {
	switch cmd.Type {
	case "start":
		if cmd.ScriptID == "" {
			c.sendError(ctx, errors.New("start requires scriptId"))
			return
		}
		sess, err := c.manager.Start(ctx, cmd.ScriptID)
		if err != nil {
			c.sendError(ctx, err)
			return
		}
		go c.forwardEvents(ctx, sess)

	case "text":
		sess := c.manager.Active()
		if sess == nil {
			c.sendError(ctx, errors.New("no interview running"))
			return
		}
		if err := sess.SubmitText(cmd.Text); err != nil {
			c.sendError(ctx, err)
		}

	case "fragment":
		sess := c.manager.Active()
		if sess == nil {
			c.sendError(ctx, errors.New("no interview running"))
			return
		}
		sess.PushFragment(cmd.Text)

	case "skip":
		sess := c.manager.Active()
		if sess == nil {
			c.sendError(ctx, errors.New("no interview running"))
			return
		}
		if err := sess.Skip(); err != nil {
			c.sendError(ctx, err)
		}

	case "end":
		if err := c.manager.End(ctx); err != nil {
			c.sendError(ctx, err)
		}

	default:
		c.sendError(ctx, fmt.Errorf("unknown command type %q", cmd.Type))
	}
}

// forwardEvents relays one session's event stream to the wire until the
// stream closes, then archives the finished interview.
func (c *client) forwardEvents(ctx context.Context, sess *interview.Session) {
	for ev := range sess.Events() {
		c.send(ctx, eventFrame(ev))
	}
	c.archiveSession(sess)
}

// archiveSession persists one terminal session. Archive failures are logged;
// the interview outcome already reached the client.
func (c *client) archiveSession(sess *interview.Session) {
	if c.archiver == nil {
		return
	}
	snap := sess.Snapshot()
	rec := archive.Record{
		SessionID:  sess.ID(),
		ScriptID:   sess.ScriptID(),
		Phase:      snap.Phase,
		Progress:   snap.Progress,
		Completed:  snap.State == interview.StateCompleted,
		FinishedAt: time.Now(),
		Turns:      sess.History(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), endGrace)
	defer cancel()
	if err := c.archiver.Save(ctx, rec); err != nil {
		c.log.Warn("interview archive failed", "session_id", sess.ID(), "error", err)
	}
}

// eventFrame converts a session event to its wire representation.
func eventFrame(ev interview.Event) *frame {
	f := &frame{Type: string(ev.Type)}
	switch ev.Type {
	case interview.EventState, interview.EventCompleted:
		snap := ev.Snapshot
		f.Session = &snap
	case interview.EventTurn:
		f.Turn = ev.Turn
	case interview.EventInterim:
		interim := ev.Interim
		f.Interim = &interim
	case interview.EventError:
		f.Error = ev.Err.Error()
	}
	return f
}

// send queues one JSON frame for writing, blocking until the write loop
// accepts it or the connection is torn down.
func (c *client) send(ctx context.Context, f *frame) {
	select {
	case c.out <- outbound{frame: f}:
	case <-ctx.Done():
	}
}

// sendError queues an error frame.
func (c *client) sendError(ctx context.Context, err error) {
	c.send(ctx, &frame{Type: "error", Error: err.Error()})
}

// sendAudio queues one synthesized audio chunk. Audio is dropped rather than
// stalling the session when the connection cannot keep up.
func (c *client) sendAudio(chunk []byte) {
	select {
	case c.out <- outbound{audio: chunk}:
	default:
	}
}
