package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nexus-ai/nexus-chat/internal/client"
	"github.com/nexus-ai/nexus-chat/internal/presentation"
	"github.com/nexus-ai/nexus-chat/internal/speech"
	"github.com/nexus-ai/nexus-chat/internal/transcript"
)

var (
	chatServerURL string
	chatMute      bool
	chatIntro     bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a Nexus server from the terminal",
	Long: `Chat reads one message per line. Commands:
  /clear        reset the local conversation
  /intro        play the introduction
  /voice on|off toggle speech
  /quit         exit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatServerURL, "server", "", "websocket URL (overrides config)")
	chatCmd.Flags().BoolVar(&chatMute, "mute", false, "start with speech disabled")
	chatCmd.Flags().BoolVar(&chatIntro, "intro", false, "play the introduction on start")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(os.Stderr, true)
	if err != nil {
		return err
	}
	if chatServerURL != "" {
		cfg.Client.ServerURL = chatServerURL
	}

	seq, release := newSequencer(cfg)
	defer release()
	seq.SetEnabled(cfg.Speech.Enabled && !chatMute)

	updates := make(chan struct{}, 1)
	c := client.New(client.Options{
		URL: cfg.Client.ServerURL,
		Timings: presentation.Timings{
			Wave:            cfg.ParsedWaveDuration(),
			Sent:            cfg.ParsedSentDuration(),
			ThinkingTimeout: cfg.ParsedThinkingTimeout(),
		},
		Speech: seq,
		Voice: speech.Options{
			Rate:     cfg.Speech.Rate,
			Pitch:    cfg.Speech.Pitch,
			Volume:   cfg.Speech.Volume,
			Language: cfg.Speech.Language,
		},
		OnUpdate: func() {
			select {
			case updates <- struct{}{}:
			default:
			}
		},
	})
	c.OnChange(func(ch presentation.Change) {
		log.Debug().Str("from", ch.From.String()).Str("to", ch.To.String()).Str("event", ch.Event.String()).Msg("avatar")
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Start(ctx)
	defer c.Close()
	if chatIntro {
		c.Intro()
	}

	r := &renderer{out: cmd.OutOrStdout(), seen: make(map[string]bool)}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-updates:
				r.render(c.Messages())
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(c, r, line); quit {
				return nil
			}
		}
	}
}

func handleLine(c *client.Client, r *renderer, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) > 0 && strings.HasPrefix(fields[0], "/") {
		switch fields[0] {
		case "/quit", "/exit":
			return true
		case "/clear":
			c.Clear()
		case "/intro":
			c.Intro()
		case "/voice":
			if len(fields) > 1 {
				c.SetVoiceEnabled(fields[1] == "on")
			}
			r.info(fmt.Sprintf("voice %s", onOff(c.VoiceEnabled())))
		default:
			r.info(fmt.Sprintf("unknown command %s", fields[0]))
		}
		return false
	}

	switch err := c.Submit(line); {
	case err == nil, errors.Is(err, client.ErrEmptySubmission):
	case errors.Is(err, client.ErrBusy):
		r.info("still thinking, please wait")
	default:
		log.Debug().Err(err).Msg("submit")
	}
	return false
}

// renderer prints each message row once, in order.
type renderer struct {
	out  io.Writer
	seen map[string]bool
}

func (r *renderer) render(msgs []client.Message) {
	for _, m := range msgs {
		if r.seen[m.ID] {
			continue
		}
		r.seen[m.ID] = true

		switch {
		case m.Kind == client.KindTyping:
			fmt.Fprintln(r.out, "  nexus is typing...")
		case m.Kind == client.KindNotice:
			fmt.Fprintf(r.out, "nexus> %s\n", m.Content)
		case m.Kind == client.KindError:
			fmt.Fprintf(r.out, "   !!> %s\n", m.Content)
		case m.Role == transcript.RoleUser:
			fmt.Fprintf(r.out, "  you> %s\n", m.Content)
		default:
			fmt.Fprintf(r.out, "nexus> %s\n", m.Content)
		}
	}
}

func (r *renderer) info(msg string) {
	fmt.Fprintf(r.out, "  (%s)\n", msg)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
