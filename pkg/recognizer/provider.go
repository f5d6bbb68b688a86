// Package recognizer defines the Provider interface for continuous
// speech-to-text capture.
//
// A recognizer provider wraps a real-time transcription service (e.g., the
// Deepgram streaming API) and exposes a uniform session interface. Once
// started, a session accepts raw PCM audio chunks and emits two streams of
// [speech.Transcript] values — low-latency interims for UI feedback and
// barge-in detection, and confirmed finals for the candidate's transcript
// buffer.
//
// The microphone and the underlying recognition engine are singleton host
// resources. [Gate] serializes access so that at most one recognition session
// is active per provider; a Start issued while a previous session is still
// tearing down fails with [ErrNotReady] and should be retried after a short
// delay (see [StartWithRetry]).
//
// Implementations must be safe for concurrent use.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hirevoice/hirevoice/pkg/speech"
)

// Start failure modes. Callers distinguish them with errors.Is.
var (
	// ErrPermissionDenied indicates the host refused audio capture access.
	ErrPermissionDenied = errors.New("recognizer: audio capture permission denied")

	// ErrUnsupported indicates the host has no recognition capability.
	ErrUnsupported = errors.New("recognizer: speech recognition not supported")

	// ErrNotReady indicates a previous session is still tearing down. The
	// caller must retry after a short delay.
	ErrNotReady = errors.New("recognizer: previous session still tearing down")
)

// EventError classifies a transient error emitted on a running session's
// Errs channel. Transient errors do not terminate the session state machine;
// the engine absorbs them per its error taxonomy.
type EventError struct {
	// Kind is one of KindNoSpeech, KindAborted, KindOther.
	Kind ErrorKind

	// Err is the underlying provider error, if any.
	Err error
}

// ErrorKind enumerates transient recognition error categories.
type ErrorKind int

const (
	// KindNoSpeech indicates the engine timed out without detecting speech.
	KindNoSpeech ErrorKind = iota

	// KindAborted indicates recognition was aborted by the host.
	KindAborted

	// KindOther covers all remaining transient failures.
	KindOther
)

// String returns the human-readable name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNoSpeech:
		return "no-speech"
	case KindAborted:
		return "aborted"
	default:
		return "other"
	}
}

// Error implements the error interface.
func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recognizer: %s: %v", e.Kind, e.Err)
	}
	return "recognizer: " + e.Kind.String()
}

// Unwrap returns the underlying provider error.
func (e *EventError) Unwrap() error { return e.Err }

// StreamConfig describes the audio format and recognition tuning for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common value: 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag (e.g., "en-US"). Empty lets the
	// provider auto-detect where supported.
	Language string

	// Keywords lists vocabulary hints (employer names, technology terms)
	// that boost recognition probability for uncommon words.
	Keywords []string
}

// SessionHandle represents an open recognition session. It is an interface so
// test code can provide mock implementations without a live connection.
//
// All methods are safe for concurrent use. The Interims, Finals, and Errs
// channels are closed, and Done becomes closed, when the session ends —
// whether by Stop or by the underlying engine's own timeout.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio for transcription. Calling
	// SendAudio after the session ended returns an error.
	SendAudio(chunk []byte) error

	// Interims returns the channel of low-confidence interim transcripts.
	// Each value replaces the previous interim wholesale.
	Interims() <-chan speech.Transcript

	// Finals returns the channel of confirmed transcript fragments. These
	// are the values the engine appends to the candidate's transcript buffer.
	Finals() <-chan speech.Transcript

	// Errs returns the channel of transient recognition errors.
	Errs() <-chan *EventError

	// Done is closed when recognition stops for any reason.
	Done() <-chan struct{}

	// Stop terminates the session and releases the microphone. Stop is
	// idempotent and safe to call when the session already ended.
	Stop() error
}

// Provider is the abstraction over any recognition backend.
type Provider interface {
	// Start opens a new streaming recognition session. The returned handle
	// is ready to accept audio immediately. The caller owns the handle and
	// must call Stop when done.
	Start(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// Gate wraps a Provider and enforces the single-active-session contract of
// the shared recognition engine: Start fails with [ErrNotReady] while a
// previous session has not finished tearing down.
//
// Gate is safe for concurrent use.
type Gate struct {
	inner Provider

	mu     sync.Mutex
	active SessionHandle
}

// NewGate returns a Gate serializing Start calls to inner.
func NewGate(inner Provider) *Gate {
	return &Gate{inner: inner}
}

// Start opens a session on the wrapped provider if no prior session is still
// active. It implements [Provider].
func (g *Gate) Start(ctx context.Context, cfg StreamConfig) (SessionHandle, error) {
	g.mu.Lock()
	if g.active != nil {
		select {
		case <-g.active.Done():
			g.active = nil
		default:
			g.mu.Unlock()
			return nil, ErrNotReady
		}
	}
	g.mu.Unlock()

	h, err := g.inner.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.active = h
	g.mu.Unlock()
	return h, nil
}

// StartWithRetry starts a session on p, retrying [ErrNotReady] failures up to
// attempts times with delay between attempts. Other errors abort immediately.
func StartWithRetry(ctx context.Context, p Provider, cfg StreamConfig, attempts int, delay time.Duration) (SessionHandle, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		h, err := p.Start(ctx, cfg)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, ErrNotReady) {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
