// Package client is the user-facing half of a chat session. It keeps the
// local transcript, drives the presentation state machine and speech, and
// talks to the server over a reconnecting websocket.
//
// All state changes happen on one event loop. Exported methods are safe to
// call from any goroutine except the OnUpdate callback, which already runs on
// the loop and must only read through Messages, State and Connected.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nexus-ai/nexus-chat/internal/channel"
	"github.com/nexus-ai/nexus-chat/internal/eventloop"
	"github.com/nexus-ai/nexus-chat/internal/logging"
	"github.com/nexus-ai/nexus-chat/internal/presentation"
	"github.com/nexus-ai/nexus-chat/internal/speech"
	"github.com/nexus-ai/nexus-chat/internal/transcript"
)

var (
	// ErrEmptySubmission is returned for blank input. Nothing is sent.
	ErrEmptySubmission = errors.New("empty submission")
	// ErrBusy is returned while the assistant is still thinking.
	ErrBusy   = errors.New("assistant is still thinking")
	ErrClosed = errors.New("client closed")
)

const (
	userSpeechRate      = 1.1
	introSpeechRate     = 0.9
	introCharsPerSecond = 15
)

type Options struct {
	URL    string
	Header http.Header

	Timings presentation.Timings
	Speech  *speech.Sequencer
	// Voice is the base prosody; per-utterance rates scale it.
	Voice speech.Options

	MinBackoff time.Duration
	MaxBackoff time.Duration

	// OnUpdate runs on the event loop after the rendered view changes.
	OnUpdate func()
}

type Client struct {
	opts    Options
	loop    *eventloop.Loop
	machine *presentation.Machine
	speech  *speech.Sequencer
	dialer  *websocket.Dialer
	log     zerolog.Logger

	connected atomic.Bool
	sessionID atomic.Value

	connMu sync.Mutex
	out    chan []byte

	viewMu sync.RWMutex
	view   []Message

	// Loop-only.
	store       *transcript.Store
	messages    []Message
	typing      *Message
	outstanding int
	discard     int

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(opts Options) *Client {
	if opts.Speech == nil {
		opts.Speech = speech.NewSequencer(speech.Nop{}, "")
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(defaultMaxBackoff, opts.MinBackoff)
	}

	loop := eventloop.New()
	c := &Client{
		opts:     opts,
		loop:     loop,
		machine:  presentation.NewMachine(loop, opts.Timings),
		speech:   opts.Speech,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:      logging.WithComponent("client"),
		store:    transcript.NewStore(),
		messages: []Message{localMessage(KindNotice, greeting)},
	}
	c.sessionID.Store("")
	c.machine.OnChange(c.onStateChange)
	loop.Post(c.update)
	return c
}

// Start begins the greeting and connects in the background. The client keeps
// reconnecting until ctx is cancelled or Close is called.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.done = make(chan struct{})

		c.machine.Start()
		go c.connectLoop(ctx)
	})
}

// Close disconnects, silences speech and stops the event loop.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
		c.speech.Cancel()
		c.loop.Stop()
	})
}

// Submit sends text as a user turn. Blank text returns ErrEmptySubmission and
// a submission while thinking returns ErrBusy; neither touches the
// transcript.
func (c *Client) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptySubmission
	}

	err := ErrClosed
	c.loop.Do(func() { err = c.submit(text) })
	return err
}

func (c *Client) submit(text string) error {
	if !c.machine.Fire(presentation.EventSubmit) {
		return ErrBusy
	}

	turn := transcript.UserTurn(text)
	c.store.Append(turn)
	c.messages = append(c.messages, turnMessage(turn))
	typing := localMessage(KindTyping, "")
	c.typing = &typing

	c.speech.Speak(text, c.prosody(userSpeechRate))

	if err := c.send(channel.SubmitUserTurn(text)); err != nil {
		c.resolve(KindError, disconnectedReason)
		c.machine.Fire(presentation.EventAssistantFailed)
		c.update()
		return fmt.Errorf("submit: %w", err)
	}

	c.outstanding++
	c.update()
	return nil
}

// Clear resets the local conversation. Replies still owed for earlier
// submissions are dropped when they arrive. The server keeps its history.
func (c *Client) Clear() {
	c.loop.Do(func() {
		c.discard = c.outstanding
		c.store.Clear()
		c.messages = []Message{localMessage(KindNotice, clearedNotice)}
		c.typing = nil
		c.machine.Fire(presentation.EventCleared)
		c.update()
	})
}

// Intro speaks the introduction while the avatar shows thinking. It is
// ignored while any reply is still owed.
func (c *Client) Intro() {
	c.loop.Post(func() {
		if c.outstanding > 0 {
			return
		}
		d := time.Duration(len(introText)) * time.Second / introCharsPerSecond
		if c.machine.Intro(d) {
			c.speech.Speak(introText, c.prosody(introSpeechRate))
		}
	})
}

func (c *Client) SetVoiceEnabled(enabled bool) {
	c.speech.SetEnabled(enabled)
}

func (c *Client) VoiceEnabled() bool {
	return c.speech.Enabled()
}

// Messages returns the rendered conversation, including the typing
// placeholder while a reply is pending.
func (c *Client) Messages() []Message {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return append([]Message(nil), c.view...)
}

// Transcript returns the local user and assistant turns only.
func (c *Client) Transcript() []transcript.Turn {
	return c.store.Snapshot()
}

func (c *Client) State() presentation.State {
	return c.machine.State()
}

func (c *Client) OnChange(fn func(presentation.Change)) {
	c.machine.OnChange(fn)
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) SessionID() string {
	id, _ := c.sessionID.Load().(string)
	return id
}

func (c *Client) onDelivered(text string) {
	if !c.settle() {
		return
	}

	turn := transcript.AssistantTurn(text)
	c.store.Append(turn)
	c.messages = append(c.messages, turnMessage(turn))
	if c.outstanding == 0 {
		c.typing = nil
		c.machine.Fire(presentation.EventAssistantDelivered)
	}

	c.speech.Speak(text, c.prosody(1))
	c.update()
}

func (c *Client) onFailed(kind, reason string) {
	if !c.settle() {
		return
	}

	c.log.Warn().Str("kind", kind).Str("reason", reason).Msg("assistant turn failed")
	c.messages = append(c.messages, localMessage(KindError, reason))
	if c.outstanding == 0 {
		c.typing = nil
		c.machine.Fire(presentation.EventAssistantFailed)
	}
	c.update()
}

// settle accounts for one server reply and reports whether it should be
// shown. Replies are matched to submissions in order.
func (c *Client) settle() bool {
	if c.outstanding > 0 {
		c.outstanding--
	}
	if c.discard > 0 {
		c.discard--
		return false
	}
	return true
}

func (c *Client) onStateChange(ch presentation.Change) {
	if ch.Event == presentation.EventThinkingTimeout {
		c.resolve(KindError, timeoutReason)
	}
	c.update()
}

// resolve replaces the typing placeholder with a local row.
func (c *Client) resolve(kind Kind, content string) {
	c.typing = nil
	c.messages = append(c.messages, localMessage(kind, content))
}

// onConnect runs on the loop for every new connection. Replies owed by an
// earlier connection can no longer arrive.
func (c *Client) onConnect() {
	c.outstanding = 0
	c.discard = 0
	c.update()
}

func (c *Client) prosody(rate float64) speech.Options {
	opts := c.opts.Voice
	if opts.Rate <= 0 {
		opts.Rate = speech.DefaultRate
	}
	opts.Rate *= rate
	return opts
}

func (c *Client) update() {
	rows := make([]Message, 0, len(c.messages)+1)
	rows = append(rows, c.messages...)
	if c.typing != nil {
		rows = append(rows, *c.typing)
	}

	c.viewMu.Lock()
	c.view = rows
	c.viewMu.Unlock()

	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate()
	}
}
