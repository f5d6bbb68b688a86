package interview

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

// Debounce tuning defaults, observed to work well for conversational speech.
const (
	// DefaultShortDelay is the silence delay applied when the accumulated
	// text is likely a complete thought.
	DefaultShortDelay = 1500 * time.Millisecond

	// DefaultLongDelay is the silence delay applied otherwise, giving the
	// candidate room to finish a sentence.
	DefaultLongDelay = 3 * time.Second

	// DefaultCompleteLength is the accumulated-text length beyond which a
	// turn is considered likely complete regardless of punctuation.
	DefaultCompleteLength = 50
)

// defaultDiscourseMarkers are words that, appearing near the end of the
// accumulated text, indicate a trailing clause boundary.
var defaultDiscourseMarkers = []string{"and", "so", "well", "basically"}

// Delay identifies the silence-delay bucket chosen for a fragment.
type Delay int

const (
	// DelayShort is the bucket for likely-complete turns.
	DelayShort Delay = iota

	// DelayLong is the bucket for turns that look unfinished.
	DelayLong
)

// String returns the bucket name, used as a metric attribute.
func (d Delay) String() string {
	if d == DelayShort {
		return "short"
	}
	return "long"
}

// DebounceConfig holds the silence-detection tuning knobs. Zero values get
// defaults.
type DebounceConfig struct {
	// ShortDelay is the silence window for likely-complete turns.
	ShortDelay time.Duration `yaml:"short_delay"`

	// LongDelay is the silence window for likely-unfinished turns.
	LongDelay time.Duration `yaml:"long_delay"`

	// CompleteLength is the character count beyond which accumulated text is
	// treated as likely complete.
	CompleteLength int `yaml:"complete_length"`

	// DiscourseMarkers are whole words that mark a trailing clause boundary
	// when they appear near the end of the text.
	DiscourseMarkers []string `yaml:"discourse_markers"`
}

// withDefaults fills zero fields with the package defaults.
func (c DebounceConfig) withDefaults() DebounceConfig {
	if c.ShortDelay <= 0 {
		c.ShortDelay = DefaultShortDelay
	}
	if c.LongDelay <= 0 {
		c.LongDelay = DefaultLongDelay
	}
	if c.CompleteLength <= 0 {
		c.CompleteLength = DefaultCompleteLength
	}
	if len(c.DiscourseMarkers) == 0 {
		c.DiscourseMarkers = defaultDiscourseMarkers
	}
	return c
}

// SilenceDebouncer decides when a spoken turn is done without an explicit
// end-of-turn signal: each new final fragment restarts a silence timer whose
// length adapts to how complete the accumulated text looks.
//
// The debouncer fires at most once per armed timer. Cancel, or a newer
// Observe, supersedes a pending timer; a superseded timer never fires. Safe
// for concurrent use.
type SilenceDebouncer struct {
	cfg DebounceConfig

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewSilenceDebouncer creates a debouncer with the given tuning. Zero config
// fields get the package defaults.
func NewSilenceDebouncer(cfg DebounceConfig) *SilenceDebouncer {
	return &SilenceDebouncer{cfg: cfg.withDefaults()}
}

// Observe restarts the pending silence timer based on the full accumulated
// buffer. When the chosen delay elapses without another Observe or Cancel,
// fire is invoked exactly once from a timer goroutine.
//
// Returns the chosen delay bucket so callers can record it.
func (d *SilenceDebouncer) Observe(buffered string, fire func()) Delay {
	delay := DelayLong
	dur := d.cfg.LongDelay
	if d.likelyComplete(buffered) {
		delay = DelayShort
		dur = d.cfg.ShortDelay
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(dur, func() {
		d.mu.Lock()
		stale := gen != d.gen
		d.mu.Unlock()
		if !stale {
			fire()
		}
	})
	return delay
}

// Cancel stops any pending timer. A timer that already started running its
// callback observes the generation bump and does not fire.
func (d *SilenceDebouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// likelyComplete classifies the accumulated text: terminal punctuation, a
// length beyond CompleteLength, or a discourse marker near the end all
// indicate the candidate has reached a clause boundary and a short silence
// suffices.
func (d *SilenceDebouncer) likelyComplete(text string) bool {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if trimmed == "" {
		return false
	}
	if strings.ContainsRune(".!?", rune(trimmed[len(trimmed)-1])) {
		return true
	}
	if len([]rune(trimmed)) > d.cfg.CompleteLength {
		return true
	}
	return d.trailingMarker(trimmed)
}

// trailingMarker reports whether one of the configured discourse markers
// appears as a whole word among the last two words of text.
func (d *SilenceDebouncer) trailingMarker(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	start := len(words) - 2
	if start < 0 {
		start = 0
	}
	for _, w := range words[start:] {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		for _, m := range d.cfg.DiscourseMarkers {
			if w == m {
				return true
			}
		}
	}
	return false
}
