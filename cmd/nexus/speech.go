package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/nexus-ai/nexus-chat/internal/audio"
	"github.com/nexus-ai/nexus-chat/internal/config"
	"github.com/nexus-ai/nexus-chat/internal/speech"
)

const speakerFrames = 1024

// newSynthesizer builds the configured speech engine. The returned func
// releases audio resources.
func newSynthesizer(cfg config.Config) (speech.Synthesizer, func(), error) {
	switch cfg.Speech.Engine {
	case config.EngineNone:
		return speech.Nop{}, func() {}, nil

	case config.EngineDeepgram:
		if err := audio.Init(); err != nil {
			return nil, nil, fmt.Errorf("init audio: %w", err)
		}
		spk, err := audio.NewSpeaker(cfg.Speech.SampleRate, speakerFrames)
		if err != nil {
			_ = audio.Terminate()
			return nil, nil, fmt.Errorf("open speaker: %w", err)
		}
		if err := spk.Start(); err != nil {
			_ = spk.Close()
			_ = audio.Terminate()
			return nil, nil, fmt.Errorf("start speaker: %w", err)
		}
		release := func() {
			_ = spk.Stop()
			_ = spk.Close()
			_ = audio.Terminate()
		}

		synth, err := speech.NewDeepgram(cfg.DeepgramAPIKey, spk, cfg.Speech.SampleRate)
		if err != nil {
			release()
			return nil, nil, err
		}
		return synth, release, nil

	default:
		synth, err := speech.NewEspeak(cfg.Speech.Command)
		if err != nil {
			return nil, nil, err
		}
		return synth, func() {}, nil
	}
}

// newSequencer never fails: without a working engine speech is silent.
func newSequencer(cfg config.Config) (*speech.Sequencer, func()) {
	synth, release, err := newSynthesizer(cfg)
	if err != nil {
		log.Warn().Err(err).Str("engine", cfg.Speech.Engine).Msg("speech unavailable, replies will not be spoken")
		synth, release = speech.Nop{}, func() {}
	}
	return speech.NewSequencer(synth, cfg.Speech.Voice), release
}
