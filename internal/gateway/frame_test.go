package gateway

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hirevoice/hirevoice/internal/interview"
)

func TestInterimFrameKeepsEmptyText(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(eventFrame(interview.Event{Type: interview.EventInterim}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// A cleared interim buffer must serialize with an explicit empty value so
	// clients can tell it apart from a malformed frame.
	if !strings.Contains(string(raw), `"interim":""`) {
		t.Fatalf("frame %s omits the interim key", raw)
	}
}

func TestNonInterimFramesOmitInterimKey(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(eventFrame(interview.Event{
		Type: interview.EventTurn,
		Turn: &interview.TurnMessage{Speaker: interview.SpeakerInterviewer, Text: "Welcome."},
	}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "interim") {
		t.Fatalf("turn frame %s carries an interim key", raw)
	}
}
