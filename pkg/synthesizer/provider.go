// Package synthesizer defines the Provider interface for text-to-speech
// rendering of interviewer messages.
//
// A synthesizer provider wraps a speech synthesis service (e.g., OpenAI
// speech or the ElevenLabs streaming API). Speak starts one utterance and
// returns an [Utterance] handle; the caller observes started/done events
// through its channels and may cancel mid-utterance for barge-in.
//
// Synthesis failures are signalled through [Utterance.Err] after Done closes,
// never as panics: the interview engine treats a failed utterance exactly
// like a completed one so that a TTS outage can never stall the turn cycle.
//
// The synthesis engine is a singleton host resource; [Serializer] guarantees
// that no two Speak calls overlap.
//
// Implementations must be safe for concurrent use.
package synthesizer

import (
	"context"
	"sync"

	"github.com/hirevoice/hirevoice/pkg/speech"
)

// Utterance is the handle for one in-flight utterance.
//
// Callers must drain the Audio channel to avoid blocking the provider's
// internal goroutines, even when they discard the audio.
type Utterance interface {
	// Audio streams raw audio bytes as they are synthesised. The channel is
	// closed when synthesis completes, fails, or is cancelled.
	Audio() <-chan []byte

	// Started is closed when the first audio chunk has been produced.
	Started() <-chan struct{}

	// Done is closed when the utterance has fully ended for any reason.
	Done() <-chan struct{}

	// Err reports why the utterance ended early. It returns nil after a clean
	// completion and is only meaningful once Done is closed.
	Err() error

	// Cancel aborts synthesis immediately. It is idempotent and safe to call
	// whether or not the utterance is still active.
	Cancel()
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Speak starts synthesising text with the given voice settings and
	// returns an Utterance handle. Settings are immutable for the duration
	// of the utterance.
	//
	// A non-nil error means synthesis could not start at all; callers should
	// treat it the same as an utterance that ended with an error.
	Speak(ctx context.Context, text string, settings speech.VoiceSettings) (Utterance, error)

	// Voices returns the voice catalogue currently offered by the provider.
	Voices(ctx context.Context) ([]speech.Voice, error)
}

// Serializer wraps a Provider so that a new Speak cancels any utterance still
// in flight before starting. This enforces the no-overlapping-utterances
// contract of the shared synthesis engine.
type Serializer struct {
	inner Provider

	mu      sync.Mutex
	current Utterance
}

// NewSerializer returns a Serializer wrapping inner.
func NewSerializer(inner Provider) *Serializer {
	return &Serializer{inner: inner}
}

// Speak cancels the previous utterance, if still active, then delegates to
// the wrapped provider. It implements [Provider].
func (s *Serializer) Speak(ctx context.Context, text string, settings speech.VoiceSettings) (Utterance, error) {
	s.mu.Lock()
	prev := s.current
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		<-prev.Done()
	}

	u, err := s.inner.Speak(ctx, text, settings)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = u
	s.mu.Unlock()
	return u, nil
}

// Voices delegates to the wrapped provider.
func (s *Serializer) Voices(ctx context.Context) ([]speech.Voice, error) {
	return s.inner.Voices(ctx)
}

// Ensure Serializer implements Provider at compile time.
var _ Provider = (*Serializer)(nil)
