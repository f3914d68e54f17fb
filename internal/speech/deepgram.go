package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	speak "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"
)

const (
	defaultAuraModel   = "aura-orion-en"
	defaultSampleRate  = 24000
	deepgramIdleWindow = 10 * time.Second
)

// Player receives linear16 mono PCM as it arrives. Play must return promptly
// once ctx is cancelled.
type Player interface {
	Play(ctx context.Context, pcm []byte, gain float64) error
}

// auraVoices is Deepgram's English Aura catalogue.
var auraVoices = []Voice{
	{ID: "aura-asteria-en", Name: "Asteria", Language: "en-US", Gender: "female"},
	{ID: "aura-luna-en", Name: "Luna", Language: "en-US", Gender: "female"},
	{ID: "aura-stella-en", Name: "Stella", Language: "en-US", Gender: "female"},
	{ID: "aura-athena-en", Name: "Athena", Language: "en-GB", Gender: "female"},
	{ID: "aura-hera-en", Name: "Hera", Language: "en-US", Gender: "female"},
	{ID: "aura-orion-en", Name: "Orion", Language: "en-US", Gender: "male"},
	{ID: "aura-arcas-en", Name: "Arcas", Language: "en-US", Gender: "male"},
	{ID: "aura-perseus-en", Name: "Perseus", Language: "en-US", Gender: "male"},
	{ID: "aura-angus-en", Name: "Angus", Language: "en-IE", Gender: "male"},
	{ID: "aura-orpheus-en", Name: "Orpheus", Language: "en-US", Gender: "male"},
	{ID: "aura-helios-en", Name: "Helios", Language: "en-GB", Gender: "male"},
	{ID: "aura-zeus-en", Name: "Zeus", Language: "en-US", Gender: "male"},
}

// Deepgram speaks through Deepgram Aura over its streaming websocket. Aura has
// no rate or pitch controls, so only Volume is honoured.
type Deepgram struct {
	apiKey     string
	player     Player
	sampleRate int
}

func NewDeepgram(apiKey string, player Player, sampleRate int) (*Deepgram, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: API key missing")
	}
	if player == nil {
		return nil, errors.New("deepgram: no audio output")
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return &Deepgram{apiKey: apiKey, player: player, sampleRate: sampleRate}, nil
}

func (d *Deepgram) Voices(context.Context) ([]Voice, error) {
	return append([]Voice(nil), auraVoices...), nil
}

func (d *Deepgram) Speak(ctx context.Context, text string, voice *Voice, opts Options) error {
	opts = opts.withDefaults()
	model := defaultAuraModel
	if voice != nil && voice.ID != "" {
		model = voice.ID
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cb := newAuraCallback(ctx)
	ws, err := speak.NewWSUsingCallback(ctx, d.apiKey, &interfaces.ClientOptions{}, &interfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   "linear16",
		SampleRate: d.sampleRate,
	}, cb)
	if err != nil {
		return fmt.Errorf("deepgram: create speak client: %w", err)
	}
	if ok := ws.Connect(); !ok {
		return errors.New("deepgram: connect failed")
	}
	defer ws.Stop()

	if err := ws.SpeakWithText(text); err != nil {
		return fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := ws.Flush(); err != nil {
		return fmt.Errorf("deepgram: flush: %w", err)
	}

	return d.drain(ctx, cb, opts.Volume)
}

// drain plays audio until the server confirms the flush. Binary frames are
// queued before the flush confirmation, so whatever is buffered at that point
// completes the utterance.
func (d *Deepgram) drain(ctx context.Context, cb *auraCallback, gain float64) error {
	idle := time.NewTimer(deepgramIdleWindow)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-cb.errs:
			return err
		case pcm := <-cb.audio:
			if err := d.player.Play(ctx, pcm, gain); err != nil {
				return err
			}
			idle.Reset(deepgramIdleWindow)
		case <-cb.flushed:
			for {
				select {
				case pcm := <-cb.audio:
					if err := d.player.Play(ctx, pcm, gain); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		case <-idle.C:
			return errors.New("deepgram: no audio received")
		}
	}
}

// auraCallback adapts the SDK's message callbacks to channels.
type auraCallback struct {
	ctx     context.Context
	audio   chan []byte
	flushed chan struct{}
	errs    chan error
}

func newAuraCallback(ctx context.Context) *auraCallback {
	return &auraCallback{
		ctx:     ctx,
		audio:   make(chan []byte, 256),
		flushed: make(chan struct{}, 1),
		errs:    make(chan error, 1),
	}
}

func (a *auraCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (a *auraCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (a *auraCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (a *auraCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (a *auraCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (a *auraCallback) UnhandledEvent([]byte) error                    { return nil }

func (a *auraCallback) Flush(*msginterfaces.FlushedResponse) error {
	select {
	case a.flushed <- struct{}{}:
	default:
	}
	return nil
}

func (a *auraCallback) Error(er *msginterfaces.ErrorResponse) error {
	err := errors.New("deepgram: speak error")
	if er != nil {
		err = fmt.Errorf("deepgram: speak error: %+v", *er)
	}
	select {
	case a.errs <- err:
	default:
	}
	return nil
}

func (a *auraCallback) Binary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	b := make([]byte, len(data))
	copy(b, data)
	select {
	case a.audio <- b:
	case <-a.ctx.Done():
	}
	return nil
}
