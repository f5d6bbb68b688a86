// Package mock provides test doubles for the recognizer package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig, and Session to inject controlled transcript and error events.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	h, _ := p.Start(ctx, cfg)
//	sess.EmitFinal("I worked at Acme", 0.92)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/hirevoice/hirevoice/pkg/recognizer"
	"github.com/hirevoice/hirevoice/pkg/speech"
)

// StartCall records a single invocation of Provider.Start.
type StartCall struct {
	// Ctx is the context passed to Start.
	Ctx context.Context
	// Cfg is the StreamConfig passed to Start.
	Cfg recognizer.StreamConfig
}

// Provider is a mock implementation of recognizer.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the handle returned by Start. If nil, Start returns a fresh
	// default Session.
	Session recognizer.SessionHandle

	// StartErrs is a queue of errors returned by successive Start calls. Once
	// drained, Start succeeds. Useful for exercising ErrNotReady retries.
	StartErrs []error

	// StartCalls records every call to Start.
	StartCalls []StartCall
}

// Start records the call, pops the next queued error if any, and otherwise
// returns Session (or a fresh default Session).
func (p *Provider) Start(ctx context.Context, cfg recognizer.StreamConfig) (recognizer.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartCalls = append(p.StartCalls, StartCall{Ctx: ctx, Cfg: cfg})
	if len(p.StartErrs) > 0 {
		err := p.StartErrs[0]
		p.StartErrs = p.StartErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Ensure Provider implements recognizer.Provider at compile time.
var _ recognizer.Provider = (*Provider)(nil)

// Session is a scriptable mock implementation of recognizer.SessionHandle.
// Tests drive it with the Emit methods and End; the consumer observes the
// events through the interface channels.
type Session struct {
	mu sync.Mutex

	interims chan speech.Transcript
	finals   chan speech.Transcript
	errs     chan *recognizer.EventError
	done     chan struct{}
	ended    bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendAudioCalls records the audio chunks delivered via SendAudio.
	SendAudioCalls [][]byte

	// StopCallCount is the number of times Stop was called.
	StopCallCount int
}

// NewSession returns a Session with buffered event channels.
func NewSession() *Session {
	return &Session{
		interims: make(chan speech.Transcript, 16),
		finals:   make(chan speech.Transcript, 16),
		errs:     make(chan *recognizer.EventError, 16),
		done:     make(chan struct{}),
	}
}

// EmitInterim injects an interim transcript event.
func (s *Session) EmitInterim(text string, confidence float64) {
	s.interims <- speech.Transcript{Text: text, Confidence: confidence}
}

// EmitFinal injects a final transcript event.
func (s *Session) EmitFinal(text string, confidence float64) {
	s.finals <- speech.Transcript{Text: text, IsFinal: true, Confidence: confidence}
}

// EmitErr injects a transient recognition error event.
func (s *Session) EmitErr(kind recognizer.ErrorKind, err error) {
	s.errs <- &recognizer.EventError{Kind: kind, Err: err}
}

// End closes all event channels, simulating the recognition engine stopping
// on its own. End is idempotent.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	close(s.interims)
	close(s.finals)
	close(s.errs)
	close(s.done)
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errors.New("mock: session ended")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	return s.SendAudioErr
}

// Interims returns the interim transcript channel.
func (s *Session) Interims() <-chan speech.Transcript { return s.interims }

// Finals returns the final transcript channel.
func (s *Session) Finals() <-chan speech.Transcript { return s.finals }

// Errs returns the transient error channel.
func (s *Session) Errs() <-chan *recognizer.EventError { return s.errs }

// Done returns the closed-on-end channel.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop records the call and ends the session.
func (s *Session) Stop() error {
	s.mu.Lock()
	s.StopCallCount++
	s.mu.Unlock()
	s.End()
	return nil
}

// Ensure Session implements recognizer.SessionHandle at compile time.
var _ recognizer.SessionHandle = (*Session)(nil)
