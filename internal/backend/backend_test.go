package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hirevoice/hirevoice/internal/resilience"
)

// ── HTTPClient ───────────────────────────────────────────────────────────────

func TestHTTPClientWireFormat(t *testing.T) {
	t.Parallel()

	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Response{
			Success:  true,
			Message:  "Why did you leave your last role?",
			Phase:    "questioning",
			Progress: 35,
		})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	reply, err := c.Chat(context.Background(), "script-42", "sess-1", "I wanted a new challenge.")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got.ScriptID != "script-42" || got.SessionID != "sess-1" {
		t.Fatalf("request identity = %+v", got)
	}
	if got.Action != ActionChat {
		t.Fatalf("action = %q, want chat", got.Action)
	}
	if got.UserMessage != "I wanted a new challenge." {
		t.Fatalf("userMessage = %q", got.UserMessage)
	}
	if reply.Message != "Why did you leave your last role?" || reply.Phase != "questioning" || reply.Progress != 35 {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestHTTPClientStartOmitsUserMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode: %v", err)
		}
		if _, present := raw["userMessage"]; present {
			t.Error("start request carries userMessage")
		}
		if raw["action"] != "start" {
			t.Errorf("action = %v", raw["action"])
		}
		json.NewEncoder(w).Encode(Response{Success: true, Message: "Welcome!", Phase: "greeting", Progress: 10})
	}))
	defer srv.Close()

	c, _ := NewHTTPClient(srv.URL)
	if _, err := c.Start(context.Background(), "script-42", "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestHTTPClientRemoteError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(Response{Success: false, Error: "script not found"})
	}))
	defer srv.Close()

	c, _ := NewHTTPClient(srv.URL)
	_, err := c.Start(context.Background(), "missing", "sess-1")

	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("error = %v, want RemoteError", err)
	}
	if remoteErr.Msg != "script not found" {
		t.Fatalf("Msg = %q", remoteErr.Msg)
	}
}

func TestHTTPClientCompletionNormalization(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Protocol violation: completed with progress below 100.
		json.NewEncoder(w).Encode(Response{
			Success:   true,
			Message:   "Bye.",
			Phase:     "closing",
			Progress:  80,
			Completed: true,
		})
	}))
	defer srv.Close()

	c, _ := NewHTTPClient(srv.URL)
	reply, err := c.Chat(context.Background(), "s", "sess", "done")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !reply.Completed || reply.Progress != 100 {
		t.Fatalf("reply = %+v, want completed with progress forced to 100", reply)
	}
}

func TestHTTPClientBreakerOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := resilience.New(resilience.Config{Name: "test", Threshold: 2})
	c, _ := NewHTTPClient(srv.URL, WithBreaker(breaker))

	for i := 0; i < 2; i++ {
		if _, err := c.Chat(context.Background(), "s", "sess", "hi"); err == nil {
			t.Fatal("want error from 502")
		}
	}
	_, err := c.Chat(context.Background(), "s", "sess", "hi")
	if !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("error = %v, want ErrOpen", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("server saw %d calls after breaker opened, want 2", got)
	}
}

func TestHTTPClientRemoteErrorDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(Response{Success: false, Error: "bad turn"})
	}))
	defer srv.Close()

	breaker := resilience.New(resilience.Config{Name: "test", Threshold: 2})
	c, _ := NewHTTPClient(srv.URL, WithBreaker(breaker))

	for i := 0; i < 5; i++ {
		if _, err := c.Chat(context.Background(), "s", "sess", "hi"); err == nil {
			t.Fatal("want RemoteError")
		}
	}
	if state := breaker.State(); state != "closed" {
		t.Fatalf("breaker state = %s, want closed", state)
	}
}

// ── normalize ────────────────────────────────────────────────────────────────

func TestNormalizeClampsProgress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   Response
		want int
	}{
		{"negative", Response{Progress: -5}, 0},
		{"over 100", Response{Progress: 120}, 100},
		{"in range", Response{Progress: 55}, 55},
		{"completed forces 100", Response{Progress: 10, Completed: true}, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := normalize(&tc.in).Progress; got != tc.want {
				t.Fatalf("progress = %d, want %d", got, tc.want)
			}
		})
	}
}

// ── Local ────────────────────────────────────────────────────────────────────

// scriptedCompleter returns canned replies and records prompts.
type scriptedCompleter struct {
	replies []string
	calls   int
	systems []string
	turns   [][]anyllmlib.Message
	err     error
}

func (c *scriptedCompleter) Complete(_ context.Context, system string, turns []anyllmlib.Message) (string, error) {
	c.systems = append(c.systems, system)
	copied := make([]anyllmlib.Message, len(turns))
	copy(copied, turns)
	c.turns = append(c.turns, copied)
	if c.err != nil {
		return "", c.err
	}
	reply := "Tell me more."
	if c.calls < len(c.replies) {
		reply = c.replies[c.calls]
	}
	c.calls++
	return reply, nil
}

func TestLocalInterviewLifecycle(t *testing.T) {
	t.Parallel()

	comp := &scriptedCompleter{replies: []string{"Hello! Please introduce yourself."}}
	l := NewLocal(comp, nil)
	ctx := context.Background()

	reply, err := l.Start(ctx, "script-42", "sess-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if reply.Phase != PhaseGreeting {
		t.Fatalf("phase = %s, want greeting", reply.Phase)
	}
	if reply.Message != "Hello! Please introduce yourself." {
		t.Fatalf("message = %q", reply.Message)
	}

	prev := reply.Progress
	var completed bool
	for i := 0; i < localTotalTurns; i++ {
		reply, err = l.Chat(ctx, "script-42", "sess-1", "An answer.")
		if err != nil {
			t.Fatalf("Chat %d: %v", i, err)
		}
		if reply.Progress < prev {
			t.Fatalf("progress regressed: %d -> %d", prev, reply.Progress)
		}
		prev = reply.Progress
		completed = reply.Completed
	}
	if !completed {
		t.Fatalf("interview not completed after %d turns", localTotalTurns)
	}
	if reply.Progress != 100 {
		t.Fatalf("final progress = %d, want 100", reply.Progress)
	}
	if reply.Phase != PhaseClosing {
		t.Fatalf("final phase = %s, want closing", reply.Phase)
	}

	// The candidate's answers accumulate in the conversation.
	lastTurns := comp.turns[len(comp.turns)-1]
	if len(lastTurns) < localTotalTurns {
		t.Fatalf("conversation length = %d, want history of all turns", len(lastTurns))
	}

	if err := l.End(ctx, "script-42", "sess-1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := l.Chat(ctx, "script-42", "sess-1", "hi"); err == nil {
		t.Fatal("chat after End succeeded, want unknown session error")
	}
}

func TestLocalUnknownSession(t *testing.T) {
	t.Parallel()

	l := NewLocal(&scriptedCompleter{}, nil)
	_, err := l.Chat(context.Background(), "s", "nope", "hi")
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("error = %v, want RemoteError", err)
	}
}

func TestPhaseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		turns int
		want  string
	}{
		{0, PhaseGreeting},
		{1, PhaseQuestioning},
		{3, PhaseQuestioning},
		{4, PhaseDeepDive},
		{5, PhaseDeepDive},
		{6, PhaseClosing},
		{8, PhaseClosing},
	}
	for _, tc := range cases {
		if got := phaseFor(tc.turns); got != tc.want {
			t.Fatalf("phaseFor(%d) = %s, want %s", tc.turns, got, tc.want)
		}
	}
}
