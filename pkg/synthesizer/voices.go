package synthesizer

import (
	"strings"

	"github.com/hirevoice/hirevoice/pkg/speech"
)

// DefaultVoicePreferences is the ordered preference list applied when no
// explicit voice is configured. Entries are matched case-insensitively as
// substrings of the voice name; earlier entries win. The list favours
// higher-quality synthetic voices over platform defaults.
var DefaultVoicePreferences = []string{
	"neural",
	"premium",
	"enhanced",
	"natural",
	"studio",
}

// SelectVoice picks a voice from available according to the ordered
// preference list. Non-default voices matching an earlier preference win;
// when nothing matches, the platform default is returned, and failing that
// the first available voice. Returns a zero Voice when available is empty.
func SelectVoice(available []speech.Voice, preferences []string) speech.Voice {
	if len(available) == 0 {
		return speech.Voice{}
	}

	for _, pref := range preferences {
		pref = strings.ToLower(pref)
		for _, v := range available {
			if v.Default {
				continue
			}
			if strings.Contains(strings.ToLower(v.Name), pref) {
				return v
			}
		}
	}

	for _, v := range available {
		if v.Default {
			return v
		}
	}
	return available[0]
}
