// Package audio plays synthesized PCM through the default output device.
package audio

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/gordonklaus/portaudio"
)

// Init must be called once before opening a Speaker; Terminate releases
// PortAudio at shutdown.
func Init() error      { return portaudio.Initialize() }
func Terminate() error { return portaudio.Terminate() }

// Speaker wraps a PortAudio playback stream with a configurable buffer size.
type Speaker struct {
	stream *portaudio.Stream
	buf    []int16
}

// NewSpeaker opens a mono PortAudio output stream with the given sample rate
// and buffer size (in frames).
func NewSpeaker(sampleRate, framesPerBuffer int) (*Speaker, error) {
	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, err
	}
	return &Speaker{stream: stream, buf: buf}, nil
}

func (s *Speaker) Start() error { return s.stream.Start() }
func (s *Speaker) Stop() error  { return s.stream.Stop() }
func (s *Speaker) Close() error { return s.stream.Close() }

// Play writes PCM16-LE mono to the device, scaled by gain. It returns early
// with ctx.Err() when ctx is cancelled, leaving at most one buffer audible.
func (s *Speaker) Play(ctx context.Context, pcm []byte, gain float64) error {
	samples := decodePCM16(pcm)
	applyGain(samples, gain)

	for off := 0; off < len(samples); off += len(s.buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(s.buf, samples[off:])
		clear(s.buf[n:])
		if err := s.stream.Write(); err != nil {
			return err
		}
	}
	return nil
}

// decodePCM16 converts little-endian bytes to samples. A trailing odd byte is
// dropped.
func decodePCM16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

func applyGain(samples []int16, gain float64) {
	if gain == 1 || gain <= 0 {
		return
	}
	for i, v := range samples {
		scaled := math.Round(float64(v) * gain)
		switch {
		case scaled > math.MaxInt16:
			scaled = math.MaxInt16
		case scaled < math.MinInt16:
			scaled = math.MinInt16
		}
		samples[i] = int16(scaled)
	}
}
