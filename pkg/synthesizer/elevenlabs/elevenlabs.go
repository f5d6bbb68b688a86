// Package elevenlabs provides an ElevenLabs-backed synthesizer using the
// ElevenLabs streaming WebSocket API. It implements the synthesizer.Provider
// interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/hirevoice/hirevoice/pkg/speech"
	"github.com/hirevoice/hirevoice/pkg/synthesizer"
)

const (
	wsEndpointFmt  = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	voicesEndpoint = "https://api.elevenlabs.io/v1/voices"
	defaultModel   = "eleven_flash_v2_5"
	defaultOutput  = "pcm_16000"
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// Provider implements synthesizer.Provider backed by the ElevenLabs
// streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	httpClient   *http.Client
}

// New creates a new Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutput,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// voiceSettings mirrors the ElevenLabs voice_settings object. Rate and pitch
// from speech.VoiceSettings map onto speed and stability.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// boiMessage is the initial "begin of input" handshake payload.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// textMessage carries one text fragment to synthesise.
type textMessage struct {
	Text string `json:"text"`
}

// audioResponse is a message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// Speak opens a WebSocket to ElevenLabs, sends the paced text segments, and
// streams decoded PCM onto the utterance's audio channel.
func (p *Provider) Speak(ctx context.Context, text string, settings speech.VoiceSettings) (synthesizer.Utterance, error) {
	segments := synthesizer.SplitPaced(synthesizer.PrepareText(text))
	if len(segments) == 0 {
		return nil, errors.New("elevenlabs: no speakable text")
	}
	if settings.VoiceID == "" {
		return nil, errors.New("elevenlabs: settings.VoiceID must not be empty")
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, settings.VoiceID, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if settings.Rate > 0 {
		vs.Speed = settings.Rate
	}
	boi := boiMessage{
		Text:          " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: vs,
		XiAPIKey:      p.apiKey,
		OutputFormat:  p.outputFormat,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	u := &utterance{
		audio:   make(chan []byte, 256),
		started: make(chan struct{}),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go u.run(ctx, conn, segments)
	return u, nil
}

// Voices fetches the voice catalogue from the ElevenLabs REST API.
func (p *Provider) Voices(ctx context.Context) ([]speech.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Voices []struct {
			VoiceID  string `json:"voice_id"`
			Name     string `json:"name"`
			Category string `json:"category"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}

	voices := make([]speech.Voice, 0, len(body.Voices))
	for _, v := range body.Voices {
		voices = append(voices, speech.Voice{
			ID:      v.VoiceID,
			Name:    v.Name,
			Default: v.Category == "premade",
		})
	}
	return voices, nil
}

// Ensure Provider implements synthesizer.Provider at compile time.
var _ synthesizer.Provider = (*Provider)(nil)

// utterance is one in-flight ElevenLabs synthesis run.
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
	if u.err == nil {
		u.err = err
	}
	u.mu.Unlock()
}

// run writes the text segments and relays decoded audio until the provider
// signals the final chunk, an error occurs, or the context is cancelled.
func (u *utterance) run(ctx context.Context, conn *websocket.Conn, segments []string) {
	defer close(u.done)
	defer close(u.audio)
	defer u.cancel()
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Reader: decode audio messages onto the audio channel.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					u.fail(fmt.Errorf("elevenlabs: read: %w", err))
				}
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err == nil && len(pcm) > 0 {
					u.startOnce.Do(func() { close(u.started) })
					select {
					case u.audio <- pcm:
					case <-ctx.Done():
						return
					}
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	// Writer: send each paced segment, then the end-of-stream marker.
	for _, seg := range segments {
		msg, _ := json.Marshal(textMessage{Text: seg + " "})
		if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
			if ctx.Err() == nil {
				u.fail(fmt.Errorf("elevenlabs: write: %w", err))
			}
			break
		}
	}
	eos, _ := json.Marshal(textMessage{Text: ""})
	_ = conn.Write(ctx, websocket.MessageText, eos)

	select {
	case <-readDone:
	case <-ctx.Done():
		u.fail(ctx.Err())
	}
}
