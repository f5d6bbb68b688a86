package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hirevoice/hirevoice/internal/backend"
	"github.com/hirevoice/hirevoice/internal/observe"
	"github.com/hirevoice/hirevoice/pkg/recognizer"
	"github.com/hirevoice/hirevoice/pkg/speech"
	"github.com/hirevoice/hirevoice/pkg/synthesizer"
)

// Session operation errors. Callers distinguish them with errors.Is.
var (
	// ErrAlreadyStarted is returned by Start on a session past Idle.
	ErrAlreadyStarted = errors.New("interview: session already started")

	// ErrClosed is returned by operations on a completed or ended session.
	ErrClosed = errors.New("interview: session is over")

	// ErrBusy is returned when a backend call is already in flight. Stale
	// submissions are dropped, never queued.
	ErrBusy = errors.New("interview: backend call in flight")

	// ErrSpeaking is returned by SubmitText while the interviewer is speaking.
	ErrSpeaking = errors.New("interview: interviewer is speaking")

	// ErrNotSpeaking is returned by Skip outside the Speaking state.
	ErrNotSpeaking = errors.New("interview: no utterance to skip")

	// ErrEmptyText is returned by SubmitText for blank input.
	ErrEmptyText = errors.New("interview: empty text")
)

// Engine tuning defaults.
const (
	defaultGraceMin        = 1 * time.Second
	defaultGraceMax        = 2 * time.Second
	defaultRequestTimeout  = 30 * time.Second
	defaultStartAttempts   = 3
	defaultStartRetryDelay = 250 * time.Millisecond
	defaultEventBuffer     = 64
)

// Corrector normalizes a recognized transcript fragment before it is
// buffered, e.g. fixing employer names and technology terms the recognition
// engine mangles.
type Corrector interface {
	Correct(text string) string
}

// Config assembles a Session's collaborators and tuning. Recognizer,
// Synthesizer, Backend, and ScriptID are required; everything else has
// defaults.
type Config struct {
	// ScriptID identifies the interview script at the backend.
	ScriptID string

	// SessionID overrides the generated session identifier. Leave empty in
	// production; tests use it for determinism.
	SessionID string

	Recognizer  recognizer.Provider
	Synthesizer synthesizer.Provider
	Backend     backend.Client

	// Corrector, if non-nil, is applied to every final fragment.
	Corrector Corrector

	// Voice configures synthesis. Zero value selects the defaults.
	Voice speech.VoiceSettings

	// Stream configures recognition sessions.
	Stream recognizer.StreamConfig

	// Debounce tunes the silence end-of-turn detection.
	Debounce DebounceConfig

	// GraceMin and GraceMax bound the randomized pause between the end of an
	// interviewer utterance and the resumption of listening, modeling natural
	// turn-taking. Defaults: 1s–2s.
	GraceMin time.Duration
	GraceMax time.Duration

	// RequestTimeout bounds each backend call. Default: 30s.
	RequestTimeout time.Duration

	// StartAttempts and StartRetryDelay govern recognition start retries
	// while a previous session is still tearing down.
	StartAttempts   int
	StartRetryDelay time.Duration

	// AudioSink, if non-nil, receives synthesized audio chunks in order.
	// When nil, audio is drained and discarded.
	AudioSink func(chunk []byte)

	// Metrics overrides the default metrics instance. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger overrides the default slog logger.
	Logger *slog.Logger

	// EventBuffer sizes the event channel. Default: 64.
	EventBuffer int
}

// validate reports all missing required fields at once.
func (c *Config) validate() error {
	var errs []error
	if c.ScriptID == "" {
		errs = append(errs, errors.New("ScriptID must not be empty"))
	}
	if c.Recognizer == nil {
		errs = append(errs, errors.New("Recognizer must not be nil"))
	}
	if c.Synthesizer == nil {
		errs = append(errs, errors.New("Synthesizer must not be nil"))
	}
	if c.Backend == nil {
		errs = append(errs, errors.New("Backend must not be nil"))
	}
	return errors.Join(errs...)
}

// Session is the turn-taking state machine for one interview attempt. It
// owns session identity, phase, progress, and history, and mediates between
// the recognizer, the synthesizer, the silence debouncer, and the interview
// backend.
//
// All exported methods are safe for concurrent use. Callers must drain
// [Session.Events] until it closes.
type Session struct {
	id       string
	scriptID string

	recognizer recognizer.Provider
	synth      synthesizer.Provider
	backend    backend.Client
	corrector  Corrector
	debouncer  *SilenceDebouncer
	metrics    *observe.Metrics
	log        *slog.Logger
	audioSink  func([]byte)

	voice          speech.VoiceSettings
	stream         recognizer.StreamConfig
	graceMin       time.Duration
	graceMax       time.Duration
	requestTimeout time.Duration
	startAttempts  int
	startRetry     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	mu               sync.Mutex
	state            State
	phase            string
	progress         int
	history          []TurnMessage
	buffer           string // confirmed fragments of the in-progress turn
	interim          string // unconfirmed fragment, replaced wholesale
	inFlight         bool   // a backend call is outstanding
	started          bool   // backend start succeeded at least once
	pendingCompleted bool   // current utterance is the final one
	counted          bool   // active-sessions gauge incremented
	closed           bool   // events channel closed

	// gen invalidates asynchronous callbacks (utterance watchers, grace and
	// silence timers) scheduled before a superseding transition.
	gen uint64

	recog         recognizer.SessionHandle
	recogStarting bool
	utter         synthesizer.Utterance
	graceTimer    *time.Timer
	turnStart     time.Time
}

// New creates a Session in the Idle state. The session does nothing until
// [Session.Start] is called.
func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("interview: invalid config: %w", err)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = NewSessionID()
	}
	if cfg.Voice == (speech.VoiceSettings{}) {
		cfg.Voice = speech.DefaultVoiceSettings()
	}
	if cfg.GraceMin <= 0 {
		cfg.GraceMin = defaultGraceMin
	}
	if cfg.GraceMax < cfg.GraceMin {
		cfg.GraceMax = defaultGraceMax
		if cfg.GraceMax < cfg.GraceMin {
			cfg.GraceMax = cfg.GraceMin
		}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.StartAttempts <= 0 {
		cfg.StartAttempts = defaultStartAttempts
	}
	if cfg.StartRetryDelay <= 0 {
		cfg.StartRetryDelay = defaultStartRetryDelay
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:             cfg.SessionID,
		scriptID:       cfg.ScriptID,
		recognizer:     cfg.Recognizer,
		synth:          cfg.Synthesizer,
		backend:        cfg.Backend,
		corrector:      cfg.Corrector,
		debouncer:      NewSilenceDebouncer(cfg.Debounce),
		metrics:        cfg.Metrics,
		log:            cfg.Logger.With("session_id", cfg.SessionID),
		audioSink:      cfg.AudioSink,
		voice:          cfg.Voice,
		stream:         cfg.Stream,
		graceMin:       cfg.GraceMin,
		graceMax:       cfg.GraceMax,
		requestTimeout: cfg.RequestTimeout,
		startAttempts:  cfg.StartAttempts,
		startRetry:     cfg.StartRetryDelay,
		ctx:            ctx,
		cancel:         cancel,
		events:         make(chan Event, cfg.EventBuffer),
		state:          StateIdle,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ScriptID returns the interview script identifier.
func (s *Session) ScriptID() string { return s.scriptID }

// Events returns the session's event stream. The channel closes when the
// session reaches a terminal state. Callers must drain it.
func (s *Session) Events() <-chan Event { return s.events }

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// History returns a copy of the conversation history.
func (s *Session) History() []TurnMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TurnMessage, len(s.history))
	copy(out, s.history)
	return out
}

// Start begins the interview: it calls the backend's start action and, on
// success, speaks the opening interviewer message. On failure the session
// returns to Idle and the error is surfaced; there is no automatic retry.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateIdle || s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateProcessing
	s.inFlight = true
	s.publishLocked(Event{Type: EventState, Snapshot: s.snapshotLocked()})
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	begin := time.Now()
	reply, err := s.backend.Start(callCtx, s.scriptID, s.id)
	s.recordBackendCall(backend.ActionStart, begin, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if s.state.terminal() {
		return ErrClosed
	}
	if err != nil {
		s.state = StateIdle
		s.publishLocked(Event{Type: EventError, Err: fmt.Errorf("interview: start: %w", err)})
		s.publishLocked(Event{Type: EventState, Snapshot: s.snapshotLocked()})
		return fmt.Errorf("interview: start: %w", err)
	}

	s.started = true
	s.counted = true
	s.metrics.ActiveSessions.Add(s.ctx, 1)
	s.applyReplyLocked(reply)
	s.speakLocked(reply.Message)
	return nil
}

// SubmitText submits free text as the candidate's turn, short-circuiting
// voice capture. Valid while awaiting user speech or idle after an error;
// rejected while a backend call is in flight or the interviewer is speaking.
func (s *Session) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state.terminal():
		return ErrClosed
	case s.state == StateProcessing || s.inFlight:
		return ErrBusy
	case s.state == StateSpeaking:
		return ErrSpeaking
	}
	s.submitLocked(text, "manual")
	return nil
}

// SendAudio forwards captured microphone audio to the active recognition
// session. Audio arriving while no session is listening is discarded.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return ErrClosed
	}
	h := s.recog
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.SendAudio(chunk)
}

// PushFragment injects text as a confirmed recognition fragment: it triggers
// barge-in while the interviewer speaks, joins the transcript buffer, and
// restarts the silence timer. Clients that run recognition on their own side
// use this instead of streaming audio.
func (s *Session) PushFragment(text string) {
	if text == "" {
		return
	}
	s.onFinal(speech.Transcript{Text: text, IsFinal: true})
}

// Skip cancels the current interviewer utterance and resumes listening
// immediately, bypassing the grace delay. Valid only while Speaking.
func (s *Session) Skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return ErrClosed
	}
	if s.state != StateSpeaking {
		return ErrNotSpeaking
	}

	s.gen++
	s.stopGraceLocked()
	if s.utter != nil {
		s.utter.Cancel()
		s.utter = nil
	}
	if s.pendingCompleted {
		s.completeLocked()
		return nil
	}
	s.enterListeningLocked()
	return nil
}

// End aborts the session from any state: cancels synthesis, recognition, and
// all timers, then best-effort notifies the backend. Notification failure is
// logged, never returned. End is idempotent.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	s.debouncer.Cancel()
	s.stopResourcesLocked()
	s.state = StateEnded
	if s.counted {
		s.counted = false
		s.metrics.ActiveSessions.Add(s.ctx, -1)
	}
	s.publishLocked(Event{Type: EventState, Snapshot: s.snapshotLocked()})
	s.closeEventsLocked()
	notify := s.started
	s.mu.Unlock()

	s.cancel()

	if notify {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.requestTimeout)
		defer cancel()
		begin := time.Now()
		err := s.backend.End(callCtx, s.scriptID, s.id)
		s.recordBackendCall(backend.ActionEnd, begin, err)
		if err != nil {
			s.log.Warn("end notification failed", "error", err)
		}
	}
	return nil
}

// --- internal transitions (all *Locked methods require s.mu held) ---

// snapshotLocked derives the observable state.
func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:    s.id,
		State:        s.state,
		StateName:    s.state.String(),
		Phase:        s.phase,
		Progress:     s.progress,
		IsListening:  s.state == StateAwaitingUserSpeech && s.recog != nil,
		IsSpeaking:   s.state == StateSpeaking && s.utter != nil,
		IsProcessing: s.state == StateProcessing,
	}
}

// publishLocked delivers an event without blocking. A full channel means the
// consumer stopped draining; the event is dropped and logged.
func (s *Session) publishLocked(ev Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event dropped, consumer not draining", "type", string(ev.Type))
	}
}

// closeEventsLocked closes the event stream exactly once.
func (s *Session) closeEventsLocked() {
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// appendTurnLocked appends one history entry and publishes it.
func (s *Session) appendTurnLocked(speaker Speaker, text string) {
	msg := TurnMessage{Speaker: speaker, Text: text, Timestamp: time.Now()}
	s.history = append(s.history, msg)
	s.publishLocked(Event{Type: EventTurn, Turn: &msg})
}

// applyReplyLocked folds a successful backend reply into session state:
// appends the interviewer turn and updates phase and progress. Progress is
// monotonically non-decreasing; completion forces it to 100.
func (s *Session) applyReplyLocked(reply *backend.Reply) {
	s.phase = reply.Phase
	if reply.Progress > s.progress {
		s.progress = reply.Progress
	}
	if reply.Completed {
		s.progress = 100
		s.pendingCompleted = true
	}
	s.appendTurnLocked(SpeakerInterviewer, reply.Message)
}

// speakLocked starts synthesizing text and transitions to Speaking. A
// synthesis failure degrades to skipping the spoken rendering: the turn
// cycle proceeds exactly as if the utterance had completed.
func (s *Session) speakLocked(text string) {
	s.gen++
	gen := s.gen
	s.state = StateSpeaking

	u, err := s.synth.Speak(s.ctx, text, s.voice)
	if err != nil {
		s.log.Warn("synthesis unavailable, skipping spoken rendering", "error", err)
		s.utter = nil
		s.publishLocked(Event{Type: EventState, Snapshot: s.snapshotLocked()})
		s.afterUtteranceLocked(gen)
		return
	}
	s.utter = u
	s.publishLocked(Event{Type: EventState, Snapshot: s.snapshotLocked()})
	go s.watchUtterance(u, gen)
}

// watchUtterance streams the utterance's audio to the sink and reacts to its
// completion. Superseded watchers (barge-in, skip, end) return silently.
func (s *Session) watchUtterance(u synthesizer.Utterance, gen uint64) {
	begin := time.Now()
	for chunk := range u.Audio() {
		if s.audioSink != nil {
			s.audioSink(chunk)
		}
	}
	<-u.Done()
	s.metrics.SynthesisDuration.Record(s.ctx, time.Since(begin).Seconds())

	if err := u.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("synthesis failed, continuing", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateSpeaking {
		return
	}
	s.utter = nil
	s.afterUtteranceLocked(gen)
}

// afterUtteranceLocked runs when an utterance finished (or failed): either
// the interview is over, or the grace delay toward listening begins.
func (s *Session) afterUtteranceLocked(gen uint64) {
	if s.pendingCompleted {
		s.completeLocked()
		return
	}
	d := s.graceDelay()
	s.graceTimer = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen || s.state != StateSpeaking {
			return
		}
		s.graceTimer = nil
		s.enterListeningLocked()
	})
}

// graceDelay picks a randomized pause in [graceMin, graceMax], modeling
// natural turn-taking.
func (s *Session) graceDelay() time.Duration {
	span := s.graceMax - s.graceMin
	if span <= 0 {
		return s.graceMin
	}
	return s.graceMin + rand.N(span)
}

// enterListeningLocked transitions to AwaitingUserSpeech and makes sure a
// recognition session is running.
func (s *Session) enterListeningLocked() {
	s.state = StateAwaitingUserSpeech
	s.publishLocked(Event{Type: EventState, Snapshot: s.snapshotLocked()})
	s.ensureRecognitionLocked()
}

// ensureRecognitionLocked starts a recognition session unless one is already
// running or being started. The actual start happens off-lock because it may
// retry while the shared engine tears down a previous session.
func (s *Session) ensureRecognitionLocked() {
	if s.recog != nil {
		select {
		case <-s.recog.Done():
			s.recog = nil
		default:
			return
		}
	}
	if s.recogStarting {
		return
	}
	s.recogStarting = true
	go s.startRecognition()
}

func (s *Session) startRecognition() {
	h, err := recognizer.StartWithRetry(s.ctx, s.recognizer, s.stream, s.startAttempts, s.startRetry)

	s.mu.Lock()
	s.recogStarting = false
	if s.state.terminal() {
		s.mu.Unlock()
		if h != nil {
			h.Stop()
		}
		return
	}
	if err != nil {
		// Capability failures do not kill the session: manual text input
		// remains available.
		s.publishLocked(Event{Type: EventError, Err: fmt.Errorf("interview: listen: %w", err)})
		s.mu.Unlock()
		return
	}
	s.recog = h
	if s.state == StateAwaitingUserSpeech {
		s.publishLocked(Event{Type: EventState, Snapshot: s.snapshotLocked()})
	}
	s.mu.Unlock()

	go s.pump(h)
}

// pump dispatches one recognition session's events until it ends.
func (s *Session) pump(h recognizer.SessionHandle) {
	interims, finals, errs := h.Interims(), h.Finals(), h.Errs()
	for {
		select {
		case t, ok := <-interims:
			if !ok {
				interims = nil
				continue
			}
			s.onInterim(t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.onFinal(t)
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.onRecognitionErr(e)
		case <-h.Done():
			s.onRecognitionEnded(h)
			return
		}
	}
}

// onInterim handles an unconfirmed fragment: barge-in while Speaking, a
// wholesale interim replacement while listening, dropped otherwise.
func (s *Session) onInterim(t speech.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateSpeaking:
		if s.pendingCompleted {
			return
		}
		s.bargeInLocked()
	case StateAwaitingUserSpeech:
	default:
		return
	}
	s.interim = t.Text
	s.publishLocked(Event{Type: EventInterim, Interim: s.buffer + s.interim})
}

// onFinal handles a confirmed fragment: barge-in while Speaking, then the
// fragment joins the transcript buffer and the silence timer restarts.
func (s *Session) onFinal(t speech.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateSpeaking:
		if s.pendingCompleted {
			return
		}
		s.bargeInLocked()
	case StateAwaitingUserSpeech:
	default:
		return
	}

	text := t.Text
	if s.corrector != nil {
		text = s.corrector.Correct(text)
	}
	// Fragments are concatenated as delivered, without a separator.
	s.buffer += text
	s.interim = ""
	s.publishLocked(Event{Type: EventInterim, Interim: s.buffer})

	gen := s.gen
	delay := s.debouncer.Observe(s.buffer, func() { s.onSilence(gen) })
	s.metrics.RecordDebounceDecision(s.ctx, delay.String())
}

// bargeInLocked reacts to candidate speech during an interviewer utterance:
// synthesis is cancelled before anything else and the session listens.
func (s *Session) bargeInLocked() {
	s.gen++
	s.stopGraceLocked()
	if s.utter != nil {
		s.utter.Cancel()
		s.utter = nil
	}
	s.metrics.BargeIns.Add(s.ctx, 1)
	s.log.Debug("barge-in, utterance cancelled")
	s.state = StateAwaitingUserSpeech
	s.publishLocked(Event{Type: EventState, Snapshot: s.snapshotLocked()})
}

// onSilence fires when the debouncer decided the candidate's turn is done.
func (s *Session) onSilence(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateAwaitingUserSpeech || s.inFlight {
		return
	}
	if strings.TrimSpace(s.buffer) == "" {
		return
	}
	s.submitLocked(s.buffer, "voice")
}

// submitLocked turns the given text into the candidate's turn and starts the
// backend chat exchange. The transcript buffer is cleared immediately.
func (s *Session) submitLocked(text, source string) {
	s.gen++
	s.debouncer.Cancel()
	s.stopGraceLocked()
	s.buffer = ""
	s.interim = ""
	s.turnStart = time.Now()

	s.appendTurnLocked(SpeakerCandidate, text)
	s.state = StateProcessing
	s.inFlight = true
	s.publishLocked(Event{Type: EventState, Snapshot: s.snapshotLocked()})
	s.metrics.RecordTurn(s.ctx, source)

	go s.chat(text)
}

// chat performs the backend chat call for one submitted turn and folds the
// outcome back into the state machine.
func (s *Session) chat(text string) {
	callCtx, cancel := context.WithTimeout(s.ctx, s.requestTimeout)
	defer cancel()
	begin := time.Now()
	reply, err := s.backend.Chat(callCtx, s.scriptID, s.id, text)
	s.recordBackendCall(backend.ActionChat, begin, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if s.state.terminal() {
		return
	}
	if err != nil {
		// The candidate's turn stays in history; the session returns to
		// listening so the turn can be retried by voice or manual text.
		s.publishLocked(Event{Type: EventError, Err: fmt.Errorf("interview: chat: %w", err)})
		s.enterListeningLocked()
		return
	}

	s.metrics.TurnDuration.Record(s.ctx, time.Since(s.turnStart).Seconds())
	s.applyReplyLocked(reply)
	s.speakLocked(reply.Message)
}

// onRecognitionErr absorbs transient recognition errors; none of them move
// the state machine.
func (s *Session) onRecognitionErr(e *recognizer.EventError) {
	s.log.Debug("transient recognition error", "kind", e.Kind.String(), "error", e.Err)
}

// onRecognitionEnded restarts listening when the recognition engine timed
// out on its own while the session still awaits user speech.
func (s *Session) onRecognitionEnded(h recognizer.SessionHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recog == h {
		s.recog = nil
	}
	if s.state != StateAwaitingUserSpeech || s.closed {
		return
	}
	gen := s.gen
	time.AfterFunc(s.startRetry, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen || s.state != StateAwaitingUserSpeech {
			return
		}
		s.ensureRecognitionLocked()
	})
}

// completeLocked finalizes a session whose backend signalled completion.
func (s *Session) completeLocked() {
	s.state = StateCompleted
	s.progress = 100
	s.debouncer.Cancel()
	s.stopResourcesLocked()
	s.metrics.CompletedInterviews.Add(s.ctx, 1)
	if s.counted {
		s.counted = false
		s.metrics.ActiveSessions.Add(s.ctx, -1)
	}
	s.publishLocked(Event{Type: EventState, Snapshot: s.snapshotLocked()})
	s.publishLocked(Event{Type: EventCompleted, Snapshot: s.snapshotLocked()})
	s.closeEventsLocked()
	s.log.Info("interview completed", "turns", len(s.history))
}

// stopGraceLocked cancels a pending grace timer.
func (s *Session) stopGraceLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

// stopResourcesLocked releases every long-running resource: the utterance,
// the recognition session, and the grace timer. Nothing may fire after a
// terminal state.
func (s *Session) stopResourcesLocked() {
	s.stopGraceLocked()
	if s.utter != nil {
		s.utter.Cancel()
		s.utter = nil
	}
	if s.recog != nil {
		if err := s.recog.Stop(); err != nil {
			s.log.Debug("recognition stop failed", "error", err)
		}
		s.recog = nil
	}
}

// recordBackendCall records latency and outcome metrics for one backend call.
func (s *Session) recordBackendCall(action backend.Action, begin time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.BackendDuration.Record(s.ctx, time.Since(begin).Seconds(),
		metric.WithAttributes(attribute.String("action", string(action))),
	)
	s.metrics.RecordBackendRequest(s.ctx, string(action), status)
}
