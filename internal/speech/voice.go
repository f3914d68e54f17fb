// Package speech sequences spoken utterances so that at most one is audible
// at a time.
package speech

import "strings"

const (
	DefaultRate     = 1.0
	DefaultPitch    = 1.0
	DefaultVolume   = 1.0
	DefaultLanguage = "en-US"
)

// Options are per-utterance prosody settings. Zero values mean default.
type Options struct {
	Rate     float64
	Pitch    float64
	Volume   float64
	Language string
}

func (o Options) withDefaults() Options {
	if o.Rate <= 0 {
		o.Rate = DefaultRate
	}
	if o.Pitch <= 0 {
		o.Pitch = DefaultPitch
	}
	if o.Volume <= 0 {
		o.Volume = DefaultVolume
	}
	if o.Language == "" {
		o.Language = DefaultLanguage
	}
	return o
}

type Voice struct {
	// ID is what the synthesizer is invoked with.
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender,omitempty"`
}

func (v Voice) isEnglish() bool {
	return strings.HasPrefix(strings.ToLower(v.Language), "en")
}

func (v Voice) isMale() bool {
	if v.Gender != "" {
		return strings.EqualFold(v.Gender, "male")
	}
	name := strings.ToLower(v.Name)
	return strings.Contains(name, "male") && !strings.Contains(name, "female")
}

// SelectVoice picks the best voice in descending preference: a name
// containing preferred, an English male voice, en-US, any English, then the
// first voice. It returns nil only when voices is empty.
func SelectVoice(voices []Voice, preferred string) *Voice {
	if len(voices) == 0 {
		return nil
	}

	tiers := []func(Voice) bool{
		func(v Voice) bool {
			return preferred != "" && strings.Contains(strings.ToLower(v.Name), strings.ToLower(preferred))
		},
		func(v Voice) bool { return v.isEnglish() && v.isMale() },
		func(v Voice) bool { return strings.HasPrefix(strings.ToLower(v.Language), "en-us") },
		Voice.isEnglish,
	}
	for _, match := range tiers {
		for i := range voices {
			if match(voices[i]) {
				v := voices[i]
				return &v
			}
		}
	}

	v := voices[0]
	return &v
}
