// Package speech holds the shared value types exchanged between the
// recognizer, the synthesizer, and the interview engine.
package speech

import "time"

// Transcript represents a speech-to-text result from a recognizer session.
// Both interim (unconfirmed) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (confirmed) or interim
	// (replace-wholesale) transcript.
	IsFinal bool

	// Confidence is the recognizer's confidence score (0.0–1.0). May be zero
	// if the provider does not report confidence.
	Confidence float64

	// Timestamp marks when the fragment started, relative to session start.
	Timestamp time.Duration
}

// Voice identifies a synthesis voice offered by a synthesizer provider.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Default reports whether this is the provider's platform-default voice.
	Default bool
}

// VoiceSettings configures one utterance. It is immutable per utterance:
// the engine may swap settings between utterances but never mid-utterance.
type VoiceSettings struct {
	// Rate adjusts speaking speed (0.5–2.0, 1.0 = default).
	Rate float64

	// Pitch adjusts voice pitch (0.0–2.0, 1.0 = default).
	Pitch float64

	// Volume scales output loudness (0.0–1.0).
	Volume float64

	// VoiceID selects an explicit synthesis voice. When empty the provider's
	// preference policy picks one (see synthesizer.SelectVoice).
	VoiceID string
}

// DefaultVoiceSettings returns neutral settings at full volume.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{Rate: 1.0, Pitch: 1.0, Volume: 1.0}
}
