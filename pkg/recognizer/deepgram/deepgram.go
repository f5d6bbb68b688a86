// Package deepgram provides a Deepgram-backed recognizer using the Deepgram
// streaming WebSocket API. It implements the recognizer.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hirevoice/hirevoice/pkg/recognizer"
	"github.com/hirevoice/hirevoice/pkg/speech"
)

const (
	endpoint          = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// stopFlushTimeout bounds how long Stop waits for the server to close
	// the stream after CloseStream before tearing the connection down.
	stopFlushTimeout = 2 * time.Second
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithBaseURL overrides the streaming endpoint, for self-hosted Deepgram
// deployments.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) { p.baseURL = baseURL }
}

// Provider implements recognizer.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
	baseURL    string
}

// New creates a new Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		baseURL:    endpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Start opens a streaming recognition session. Authentication failures map to
// [recognizer.ErrPermissionDenied] so the engine can surface them as
// capability errors rather than transient ones.
func (p *Provider) Start(ctx context.Context, cfg recognizer.StreamConfig) (recognizer.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("deepgram: dial: %w", recognizer.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sess := &session{
		conn:     conn,
		cancel:   cancel,
		interims: make(chan speech.Transcript, 64),
		finals:   make(chan speech.Transcript, 64),
		errs:     make(chan *recognizer.EventError, 8),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(sctx)
	go sess.writeLoop(sctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg recognizer.StreamConfig) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// dgResponse is the JSON structure Deepgram sends for a Results event.
type dgResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session implementing
// recognizer.SessionHandle.
type session struct {
	conn     *websocket.Conn
	cancel   context.CancelFunc
	interims chan speech.Transcript
	finals   chan speech.Transcript
	errs     chan *recognizer.EventError
	audio    chan []byte

	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
	start time.Time
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Interims returns the channel of interim transcripts.
func (s *session) Interims() <-chan speech.Transcript { return s.interims }

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan speech.Transcript { return s.finals }

// Errs returns the channel of transient recognition errors.
func (s *session) Errs() <-chan *recognizer.EventError { return s.errs }

// Done is closed when the session has fully stopped.
func (s *session) Done() <-chan struct{} { return s.done }

// Stop terminates the session cleanly. It is idempotent.
func (s *session) Stop() error {
	s.once.Do(func() {
		close(s.done)
		// Ask Deepgram to flush pending audio before closing.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))

		// The read loop exits when the server closes the stream in
		// response. The wait is bounded: an unresponsive peer must not
		// wedge Stop, so after the flush deadline the loop contexts are
		// cancelled, which forces the pending read to return.
		finished := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(stopFlushTimeout):
			s.cancel()
			<-finished
		}

		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		close(s.interims)
		close(s.finals)
		close(s.errs)
	})
	return nil
}

// writeLoop drains the audio channel into binary WebSocket messages.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches transcripts.
// A read failure ends the session: the engine observes Done and treats it as
// the recognition engine's own timeout.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.endFromRead(err)
			return
		}

		t, ok := parseResponse(msg)
		if !ok {
			continue
		}

		out := s.interims
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-s.done:
			return
		}
	}
}

// endFromRead reports the terminal read error and closes the session from the
// reader side. Stop-initiated closures arrive here too; those are silent.
func (s *session) endFromRead(err error) {
	select {
	case <-s.done:
		return
	default:
	}

	kind := recognizer.KindOther
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		kind = recognizer.KindAborted
	}
	select {
	case s.errs <- &recognizer.EventError{Kind: kind, Err: err}:
	default:
	}

	s.once.Do(func() {
		close(s.done)
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "read ended")
		close(s.interims)
		close(s.finals)
		close(s.errs)
	})
}

// parseResponse parses a raw Deepgram message into a Transcript. Returns
// (zero, false) for non-Result messages and empty transcripts.
func parseResponse(data []byte) (speech.Transcript, bool) {
	var resp dgResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return speech.Transcript{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return speech.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return speech.Transcript{}, false
	}
	return speech.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
	}, true
}
