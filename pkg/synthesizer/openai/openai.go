// Package openai provides an OpenAI-backed synthesizer using the audio
// speech endpoint. It implements the synthesizer.Provider interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hirevoice/hirevoice/pkg/speech"
	"github.com/hirevoice/hirevoice/pkg/synthesizer"
)

const defaultVoice = "alloy"

// openAIVoices is the fixed voice catalogue of the speech endpoint. "alloy"
// is the platform default.
var openAIVoices = []speech.Voice{
	{ID: "alloy", Name: "Alloy", Default: true},
	{ID: "ash", Name: "Ash"},
	{ID: "coral", Name: "Coral"},
	{ID: "echo", Name: "Echo"},
	{ID: "nova", Name: "Nova"},
	{ID: "onyx", Name: "Onyx"},
	{ID: "sage", Name: "Sage"},
	{ID: "shimmer", Name: "Shimmer"},
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the speech model (e.g., "gpt-4o-mini-tts", "tts-1").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// Provider implements synthesizer.Provider backed by the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  string
}

// New creates a new Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  string(oai.SpeechModelGPT4oMiniTTS),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Speak synthesises text segment by segment. The text is paced through
// [synthesizer.SplitPaced] so that each request covers one clause, giving
// natural micro-pauses between segments.
func (p *Provider) Speak(ctx context.Context, text string, settings speech.VoiceSettings) (synthesizer.Utterance, error) {
	segments := synthesizer.SplitPaced(synthesizer.PrepareText(text))
	if len(segments) == 0 {
		return nil, errors.New("openai: no speakable text")
	}

	voice := settings.VoiceID
	if voice == "" {
		voice = synthesizer.SelectVoice(openAIVoices, synthesizer.DefaultVoicePreferences).ID
		if voice == "" {
			voice = defaultVoice
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	u := &utterance{
		audio:   make(chan []byte, 64),
		started: make(chan struct{}),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go u.run(ctx, p, segments, voice, settings)
	return u, nil
}

// Voices returns the static OpenAI voice catalogue.
func (p *Provider) Voices(_ context.Context) ([]speech.Voice, error) {
	out := make([]speech.Voice, len(openAIVoices))
	copy(out, openAIVoices)
	return out, nil
}

// Ensure Provider implements synthesizer.Provider at compile time.
var _ synthesizer.Provider = (*Provider)(nil)

// utterance is one in-flight OpenAI synthesis run.
type utterance struct {
	audio   chan []byte
	started chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	startOnce  sync.Once
	cancelOnce sync.Once

	mu  sync.Mutex
	err error
}

func (u *utterance) Audio() <-chan []byte     { return u.audio }
func (u *utterance) Started() <-chan struct{} { return u.started }
func (u *utterance) Done() <-chan struct{}    { return u.done }

func (u *utterance) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

func (u *utterance) Cancel() {
	u.cancelOnce.Do(u.cancel)
}

func (u *utterance) fail(err error) {
	u.mu.Lock()
	u.err = err
	u.mu.Unlock()
}

// run synthesises each segment in order, streaming response bodies onto the
// audio channel.
func (u *utterance) run(ctx context.Context, p *Provider, segments []string, voice string, settings speech.VoiceSettings) {
	defer close(u.done)
	defer close(u.audio)
	defer u.cancel()

	for _, seg := range segments {
		if err := u.synthesize(ctx, p, seg, voice, settings); err != nil {
			if ctx.Err() == nil {
				u.fail(err)
			} else {
				u.fail(ctx.Err())
			}
			return
		}
	}
}

func (u *utterance) synthesize(ctx context.Context, p *Provider, segment, voice string, settings speech.VoiceSettings) error {
	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          segment,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if settings.Rate > 0 {
		params.Speed = oai.Float(settings.Rate)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai: synthesize: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 8192)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			u.startOnce.Do(func() { close(u.started) })
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case u.audio <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("openai: read audio: %w", err)
		}
	}
}
