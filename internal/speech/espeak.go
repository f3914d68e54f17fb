package speech

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	espeakBaseWPM       = 175
	espeakBasePitch     = 50
	espeakBaseAmplitude = 100
)

// Espeak speaks through the espeak-ng command line tool. Cancelling the
// context kills the process, which stops audio immediately.
type Espeak struct {
	command string
}

func NewEspeak(command string) (*Espeak, error) {
	if command == "" {
		command = "espeak-ng"
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("speech command %q: %w", command, err)
	}
	return &Espeak{command: path}, nil
}

func (e *Espeak) Speak(ctx context.Context, text string, voice *Voice, opts Options) error {
	cmd := exec.CommandContext(ctx, e.command, espeakArgs(voice, opts)...)
	cmd.Stdin = strings.NewReader(text)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("espeak: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (e *Espeak) Voices(ctx context.Context) ([]Voice, error) {
	out, err := exec.CommandContext(ctx, e.command, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("espeak list voices: %w", err)
	}
	return parseEspeakVoices(out), nil
}

func espeakArgs(voice *Voice, opts Options) []string {
	opts = opts.withDefaults()

	id := strings.ToLower(opts.Language)
	if voice != nil && voice.ID != "" {
		id = voice.ID
	}

	return []string{
		"-v", id,
		"-s", strconv.Itoa(int(espeakBaseWPM * opts.Rate)),
		"-p", strconv.Itoa(clamp(int(espeakBasePitch*opts.Pitch), 0, 99)),
		"-a", strconv.Itoa(clamp(int(espeakBaseAmplitude*opts.Volume), 0, 200)),
		"--stdin",
	}
}

// parseEspeakVoices reads the table printed by `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
func parseEspeakVoices(out []byte) []Voice {
	var voices []Voice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}

		v := Voice{
			ID:       fields[1],
			Language: fields[1],
			Name:     strings.ReplaceAll(fields[3], "_", " "),
		}
		if _, g, ok := strings.Cut(fields[2], "/"); ok {
			switch strings.ToUpper(g) {
			case "M":
				v.Gender = "male"
			case "F":
				v.Gender = "female"
			}
		}
		voices = append(voices, v)
	}
	return voices
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
