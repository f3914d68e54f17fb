package speech

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nexus-ai/nexus-chat/internal/logging"
)

// Synthesizer is the speech output capability. Speak blocks until the
// utterance finishes or ctx is cancelled, in which case audio must stop
// before it returns.
type Synthesizer interface {
	Speak(ctx context.Context, text string, voice *Voice, opts Options) error
	Voices(ctx context.Context) ([]Voice, error)
}

// Nop discards speech. Used when no synthesizer is available.
type Nop struct{}

func (Nop) Speak(ctx context.Context, _ string, _ *Voice, _ Options) error { return nil }
func (Nop) Voices(context.Context) ([]Voice, error)                         { return nil, nil }

// Sequencer enforces cancel-then-speak over a Synthesizer: a new utterance
// stops and awaits the previous one before it starts.
type Sequencer struct {
	synth     Synthesizer
	preferred string
	log       zerolog.Logger

	mu      sync.Mutex
	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}

	// voices is reloaded until the synthesizer reports at least one.
	voicesMu    sync.Mutex
	voices      []Voice
	voice       *Voice
	voicesError bool
}

func NewSequencer(synth Synthesizer, preferredVoice string) *Sequencer {
	if synth == nil {
		synth = Nop{}
	}
	return &Sequencer{
		synth:     synth,
		preferred: preferredVoice,
		enabled:   true,
		log:       logging.WithComponent("speech"),
	}
}

// Speak starts text and returns without waiting for it to finish. It is a
// no-op while disabled or for blank text.
func (s *Sequencer) Speak(text string, opts Options) {
	if strings.TrimSpace(text) == "" {
		return
	}
	voice := s.selectedVoice()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return
	}
	s.cancelLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	opts = opts.withDefaults()
	go func() {
		defer close(done)
		if err := s.synth.Speak(ctx, text, voice, opts); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn().Err(err).Msg("speak failed")
		}
	}()
}

// Cancel stops the current utterance, if any, and waits for it to go quiet.
func (s *Sequencer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

func (s *Sequencer) cancelLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// SetEnabled toggles speech. Disabling silences the current utterance;
// re-enabling does not replay anything.
func (s *Sequencer) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled = enabled
	if !enabled {
		s.cancelLocked()
	}
}

func (s *Sequencer) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Wait blocks until the current utterance, if any, has finished.
func (s *Sequencer) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Voices lists what the synthesizer offers. Once a non-empty list has been
// loaded it is kept for the life of the sequencer.
func (s *Sequencer) Voices() []Voice {
	s.voicesMu.Lock()
	defer s.voicesMu.Unlock()
	s.loadVoicesLocked()
	return append([]Voice(nil), s.voices...)
}

func (s *Sequencer) selectedVoice() *Voice {
	s.voicesMu.Lock()
	defer s.voicesMu.Unlock()
	s.loadVoicesLocked()
	return s.voice
}

func (s *Sequencer) loadVoicesLocked() {
	if len(s.voices) > 0 {
		return
	}
	voices, err := s.synth.Voices(context.Background())
	if err != nil {
		if !s.voicesError {
			s.log.Warn().Err(err).Msg("list voices")
			s.voicesError = true
		}
		return
	}
	if len(voices) == 0 {
		return
	}
	s.voices = voices
	s.voice = SelectVoice(voices, s.preferred)
	if s.voice != nil {
		s.log.Debug().Str("voice", s.voice.Name).Msg("voice selected")
	}
}
