// Package mock provides test doubles for the synthesizer package interfaces.
//
// Use Provider to verify the text and settings passed to Speak, and the
// returned Utterance to script completion, failure, and cancellation from
// the test body.
//
// Example:
//
//	p := &mock.Provider{}
//	u, _ := p.Speak(ctx, "Hello", settings)
//	p.LastUtterance().Finish(nil) // simulate synthesis end
package mock

import (
	"context"
	"sync"

	"github.com/hirevoice/hirevoice/pkg/speech"
	"github.com/hirevoice/hirevoice/pkg/synthesizer"
)

// SpeakCall records a single invocation of Provider.Speak.
type SpeakCall struct {
	// Ctx is the context passed to Speak.
	Ctx context.Context
	// Text is the text passed to Speak.
	Text string
	// Settings is the VoiceSettings passed to Speak.
	Settings speech.VoiceSettings
}

// Provider is a mock implementation of synthesizer.Provider.
type Provider struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned by every Speak call instead of an
	// Utterance.
	SpeakErr error

	// VoicesResult is returned by Voices.
	VoicesResult []speech.Voice

	// VoicesErr, if non-nil, is returned as the error from Voices.
	VoicesErr error

	// SpeakCalls records every call to Speak in order.
	SpeakCalls []SpeakCall

	utterances []*Utterance
}

// Speak records the call and returns a fresh scriptable Utterance.
func (p *Provider) Speak(ctx context.Context, text string, settings speech.VoiceSettings) (synthesizer.Utterance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SpeakCalls = append(p.SpeakCalls, SpeakCall{Ctx: ctx, Text: text, Settings: settings})
	if p.SpeakErr != nil {
		return nil, p.SpeakErr
	}
	u := NewUtterance()
	p.utterances = append(p.utterances, u)
	return u, nil
}

// Voices returns VoicesResult, VoicesErr.
func (p *Provider) Voices(_ context.Context) ([]speech.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.VoicesErr != nil {
		return nil, p.VoicesErr
	}
	return p.VoicesResult, nil
}

// LastUtterance returns the Utterance created by the most recent Speak call,
// or nil if Speak has not been called.
func (p *Provider) LastUtterance() *Utterance {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.utterances) == 0 {
		return nil
	}
	return p.utterances[len(p.utterances)-1]
}

// Ensure Provider implements synthesizer.Provider at compile time.
var _ synthesizer.Provider = (*Provider)(nil)

// Utterance is a scriptable mock implementation of synthesizer.Utterance.
type Utterance struct {
	audio   chan []byte
	started chan struct{}
	done    chan struct{}

	startOnce  sync.Once
	finishOnce sync.Once

	mu  sync.Mutex
	err error

	// CancelCallCount is the number of times Cancel was called.
	CancelCallCount int
}

// NewUtterance returns an idle Utterance awaiting scripted events.
func NewUtterance() *Utterance {
	return &Utterance{
		audio:   make(chan []byte, 16),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// EmitAudio injects an audio chunk and marks the utterance started.
func (u *Utterance) EmitAudio(chunk []byte) {
	u.startOnce.Do(func() { close(u.started) })
	u.audio <- chunk
}

// Finish ends the utterance with the given error (nil for clean completion).
// Finish is idempotent.
func (u *Utterance) Finish(err error) {
	u.finishOnce.Do(func() {
		u.mu.Lock()
		u.err = err
		u.mu.Unlock()
		close(u.audio)
		close(u.done)
	})
}

// Audio returns the audio channel.
func (u *Utterance) Audio() <-chan []byte { return u.audio }

// Started returns the started channel.
func (u *Utterance) Started() <-chan struct{} { return u.started }

// Done returns the done channel.
func (u *Utterance) Done() <-chan struct{} { return u.done }

// Err returns the scripted completion error.
func (u *Utterance) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Cancel records the call and finishes the utterance with context.Canceled.
func (u *Utterance) Cancel() {
	u.mu.Lock()
	u.CancelCallCount++
	u.mu.Unlock()
	u.Finish(context.Canceled)
}

// Ensure Utterance implements synthesizer.Utterance at compile time.
var _ synthesizer.Utterance = (*Utterance)(nil)
