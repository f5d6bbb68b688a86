package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/hirevoice/hirevoice/internal/archive"
	"github.com/hirevoice/hirevoice/internal/backend"
	backendmock "github.com/hirevoice/hirevoice/internal/backend/mock"
	"github.com/hirevoice/hirevoice/internal/gateway"
	"github.com/hirevoice/hirevoice/internal/interview"
	recogmock "github.com/hirevoice/hirevoice/pkg/recognizer/mock"
	synthmock "github.com/hirevoice/hirevoice/pkg/synthesizer/mock"
)

const frameTimeout = 3 * time.Second

// wireFrame mirrors the gateway's outbound JSON frame for decoding.
type wireFrame struct {
	Type    string              `json:"type"`
	Session *interview.Snapshot `json:"session"`
	Turn    *struct {
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
	} `json:"turn"`
	Interim string `json:"interim"`
	Error   string `json:"error"`
}

// fakeArchiver records saved interview records.
type fakeArchiver struct {
	mu   sync.Mutex
	recs []archive.Record
}

func (a *fakeArchiver) Save(_ context.Context, rec archive.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func (a *fakeArchiver) saved() []archive.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]archive.Record, len(a.recs))
	copy(out, a.recs)
	return out
}

// fixture bundles the mocks behind one gateway test server.
type fixture struct {
	recogSess *recogmock.Session
	synth     *synthmock.Provider
	backend   *backendmock.Client
	archiver  *fakeArchiver
	srv       *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		recogSess: recogmock.NewSession(),
		synth:     &synthmock.Provider{},
		backend: &backendmock.Client{
			StartResult: backendmock.Result{
				Reply: &backend.Reply{Message: "Welcome! Tell me about yourself.", Phase: "greeting", Progress: 10},
			},
		},
		archiver: &fakeArchiver{},
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := func(scriptID string, sink func(chunk []byte)) (*interview.Session, error) {
		return interview.New(interview.Config{
			ScriptID:    scriptID,
			Recognizer:  &recogmock.Provider{Session: f.recogSess},
			Synthesizer: f.synth,
			Backend:     f.backend,
			AudioSink:   sink,
			GraceMin:    time.Millisecond,
			GraceMax:    2 * time.Millisecond,
			Debounce: interview.DebounceConfig{
				ShortDelay: 30 * time.Millisecond,
				LongDelay:  120 * time.Millisecond,
			},
			StartRetryDelay: time.Millisecond,
			Logger:          quiet,
		})
	}

	gw, err := gateway.NewServer(factory,
		gateway.WithLogger(quiet),
		gateway.WithArchiver(f.archiver),
	)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	f.srv = httptest.NewServer(gw.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

// dial opens a WebSocket connection to the fixture's interview endpoint.
func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/interview"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// sendCommand writes one JSON command frame.
func sendCommand(t *testing.T, conn *websocket.Conn, cmd map[string]any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	data, _ := json.Marshal(cmd)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

// awaitFrame reads JSON frames, skipping binary audio, until match accepts
// one.
func awaitFrame(t *testing.T, conn *websocket.Conn, match func(wireFrame) bool) wireFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("awaiting frame: %v", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		var f wireFrame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unmarshal frame %q: %v", data, err)
		}
		if match(f) {
			return f
		}
	}
}

// awaitState waits for a state frame carrying the given state name.
func awaitState(t *testing.T, conn *websocket.Conn, state string) wireFrame {
	t.Helper()
	return awaitFrame(t, conn, func(f wireFrame) bool {
		return f.Type == "state" && f.Session != nil && f.Session.StateName == state
	})
}

// awaitBinary reads frames until a binary one arrives.
func awaitBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("awaiting binary frame: %v", err)
		}
		if typ == websocket.MessageBinary {
			return data
		}
	}
}

// finishUtterance waits for the synthesizer to receive a Speak call, then
// scripts the given audio and a clean completion.
func (f *fixture) finishUtterance(t *testing.T, audio []byte) {
	t.Helper()
	deadline := time.Now().Add(frameTimeout)
	for f.synth.LastUtterance() == nil {
		if time.Now().After(deadline) {
			t.Fatal("synthesizer never called")
		}
		time.Sleep(time.Millisecond)
	}
	u := f.synth.LastUtterance()
	if audio != nil {
		u.EmitAudio(audio)
	}
	u.Finish(nil)
}

func TestInterviewOverWebSocket(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t)

	sendCommand(t, conn, map[string]any{"type": "start", "scriptId": "script-42"})

	// Opening message arrives as a turn, then the interviewer speaks.
	turn := awaitFrame(t, conn, func(fr wireFrame) bool { return fr.Type == "turn" })
	if turn.Turn.Speaker != "interviewer" || turn.Turn.Text != "Welcome! Tell me about yourself." {
		t.Fatalf("opening turn = %+v", turn.Turn)
	}
	awaitState(t, conn, "speaking")

	// Synthesized audio reaches the client as binary frames.
	want := []byte{0x01, 0x02, 0x03}
	f.finishUtterance(t, want)
	if got := awaitBinary(t, conn); !bytes.Equal(got, want) {
		t.Fatalf("audio frame = %v, want %v", got, want)
	}
	awaitState(t, conn, "awaiting_user_speech")

	// Manual text submission becomes the candidate's turn.
	sendCommand(t, conn, map[string]any{"type": "text", "text": "I led a platform team."})
	turn = awaitFrame(t, conn, func(fr wireFrame) bool {
		return fr.Type == "turn" && fr.Turn.Speaker == "candidate"
	})
	if turn.Turn.Text != "I led a platform team." {
		t.Fatalf("candidate turn = %q", turn.Turn.Text)
	}

	// The backend's reply is spoken in turn.
	awaitFrame(t, conn, func(fr wireFrame) bool {
		return fr.Type == "turn" && fr.Turn.Speaker == "interviewer" && fr.Turn.Text == "Tell me more."
	})
	f.finishUtterance(t, nil)
	awaitState(t, conn, "awaiting_user_speech")

	sendCommand(t, conn, map[string]any{"type": "end"})
	awaitState(t, conn, "ended")
}

func TestVoiceFragmentsDriveTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t)

	sendCommand(t, conn, map[string]any{"type": "start", "scriptId": "script-42"})
	f.finishUtterance(t, nil)
	awaitState(t, conn, "awaiting_user_speech")

	// Recognized speech surfaces as interim updates, then silence submits it.
	f.recogSess.EmitFinal("I worked at Acme.", 0.9)
	awaitFrame(t, conn, func(fr wireFrame) bool {
		return fr.Type == "interim" && fr.Interim == "I worked at Acme."
	})
	turn := awaitFrame(t, conn, func(fr wireFrame) bool {
		return fr.Type == "turn" && fr.Turn.Speaker == "candidate"
	})
	if turn.Turn.Text != "I worked at Acme." {
		t.Fatalf("candidate turn = %q", turn.Turn.Text)
	}
}

func TestFragmentCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t)

	sendCommand(t, conn, map[string]any{"type": "start", "scriptId": "script-42"})
	f.finishUtterance(t, nil)
	awaitState(t, conn, "awaiting_user_speech")

	sendCommand(t, conn, map[string]any{"type": "fragment", "text": "Client-side recognition result."})
	turn := awaitFrame(t, conn, func(fr wireFrame) bool {
		return fr.Type == "turn" && fr.Turn.Speaker == "candidate"
	})
	if turn.Turn.Text != "Client-side recognition result." {
		t.Fatalf("candidate turn = %q", turn.Turn.Text)
	}
}

func TestCommandsWithoutInterview(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t)

	for _, cmd := range []string{"text", "skip", "fragment"} {
		sendCommand(t, conn, map[string]any{"type": cmd, "text": "hello"})
		fr := awaitFrame(t, conn, func(fr wireFrame) bool { return fr.Type == "error" })
		if !strings.Contains(fr.Error, "no interview running") {
			t.Fatalf("%s error = %q", cmd, fr.Error)
		}
	}
}

func TestStartRequiresScriptID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t)

	sendCommand(t, conn, map[string]any{"type": "start"})
	fr := awaitFrame(t, conn, func(fr wireFrame) bool { return fr.Type == "error" })
	if !strings.Contains(fr.Error, "scriptId") {
		t.Fatalf("error = %q", fr.Error)
	}
}

func TestUnknownCommandRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t)

	sendCommand(t, conn, map[string]any{"type": "bogus"})
	fr := awaitFrame(t, conn, func(fr wireFrame) bool { return fr.Type == "error" })
	if !strings.Contains(fr.Error, "unknown command") {
		t.Fatalf("error = %q", fr.Error)
	}
}

func TestMalformedCommandRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	fr := awaitFrame(t, conn, func(fr wireFrame) bool { return fr.Type == "error" })
	if !strings.Contains(fr.Error, "malformed command") {
		t.Fatalf("error = %q", fr.Error)
	}
}

func TestDisconnectEndsInterview(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t)

	sendCommand(t, conn, map[string]any{"type": "start", "scriptId": "script-42"})
	f.finishUtterance(t, nil)
	awaitState(t, conn, "awaiting_user_speech")

	conn.Close(websocket.StatusNormalClosure, "leaving")

	deadline := time.Now().Add(frameTimeout)
	for len(f.backend.Ends()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("backend never notified of end after disconnect")
		}
		time.Sleep(time.Millisecond)
	}
	if end := f.backend.Ends()[0]; end.ScriptID != "script-42" {
		t.Fatalf("end call = %+v", end)
	}
}

func TestCompletedInterviewArchived(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.backend.ChatResults = []backendmock.Result{{
		Reply: &backend.Reply{Message: "Thanks, we are done!", Phase: "closing", Progress: 100, Completed: true},
	}}
	conn := f.dial(t)

	sendCommand(t, conn, map[string]any{"type": "start", "scriptId": "script-42"})
	f.finishUtterance(t, nil)
	awaitState(t, conn, "awaiting_user_speech")

	sendCommand(t, conn, map[string]any{"type": "text", "text": "That is everything."})
	awaitFrame(t, conn, func(fr wireFrame) bool {
		return fr.Type == "turn" && fr.Turn.Speaker == "interviewer" && fr.Turn.Text == "Thanks, we are done!"
	})
	// The closing message is spoken before completion.
	f.finishUtterance(t, nil)
	fr := awaitFrame(t, conn, func(fr wireFrame) bool { return fr.Type == "completed" })
	if fr.Session.Progress != 100 {
		t.Fatalf("completed progress = %d, want 100", fr.Session.Progress)
	}

	deadline := time.Now().Add(frameTimeout)
	for len(f.archiver.saved()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("interview never archived")
		}
		time.Sleep(time.Millisecond)
	}
	rec := f.archiver.saved()[0]
	if !rec.Completed || rec.ScriptID != "script-42" {
		t.Fatalf("archived record = %+v", rec)
	}
	if len(rec.Turns) != 3 {
		t.Fatalf("archived %d turns, want 3", len(rec.Turns))
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(f.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
