package recognizer

import (
	"context"

	"github.com/hirevoice/hirevoice/pkg/speech"
)

// Default confidence thresholds. Fragments below the interim threshold are
// dropped entirely; fragments between the two thresholds are demoted to
// interim even when the provider marked them final.
const (
	DefaultInterimConfidence = 0.5
	DefaultFinalConfidence   = 0.7
)

// WithConfidenceFilter wraps p so that every session it opens filters
// transcripts by confidence: interims below interimMin are discarded, and
// finals below finalMin are discarded rather than buffered. A provider that
// reports zero confidence passes the filter unchanged.
func WithConfidenceFilter(p Provider, interimMin, finalMin float64) Provider {
	return &filterProvider{inner: p, interimMin: interimMin, finalMin: finalMin}
}

type filterProvider struct {
	inner      Provider
	interimMin float64
	finalMin   float64
}

func (f *filterProvider) Start(ctx context.Context, cfg StreamConfig) (SessionHandle, error) {
	h, err := f.inner.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}

	fh := &filterHandle{
		SessionHandle: h,
		interims:      make(chan speech.Transcript, 16),
		finals:        make(chan speech.Transcript, 16),
	}
	go fh.pump(f.interimMin, f.finalMin)
	return fh, nil
}

// filterHandle re-emits the wrapped session's transcripts after applying the
// confidence thresholds. Errs, Done, SendAudio, and Stop pass through.
type filterHandle struct {
	SessionHandle
	interims chan speech.Transcript
	finals   chan speech.Transcript
}

func (h *filterHandle) Interims() <-chan speech.Transcript { return h.interims }
func (h *filterHandle) Finals() <-chan speech.Transcript   { return h.finals }

func (h *filterHandle) pump(interimMin, finalMin float64) {
	defer close(h.interims)
	defer close(h.finals)

	in := h.SessionHandle.Interims()
	fin := h.SessionHandle.Finals()
	for in != nil || fin != nil {
		select {
		case t, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			if accepted(t.Confidence, interimMin) {
				h.interims <- t
			}
		case t, ok := <-fin:
			if !ok {
				fin = nil
				continue
			}
			// Low-confidence finals are discarded, not buffered.
			if accepted(t.Confidence, finalMin) {
				h.finals <- t
			}
		}
	}
}

// accepted reports whether a fragment with the given confidence clears min.
// Zero confidence means the provider reports none; such fragments pass.
func accepted(confidence, min float64) bool {
	return confidence == 0 || confidence >= min
}
