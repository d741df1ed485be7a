package main

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/dialog"
)

// microphone captures mono 16-bit PCM from the default input device and
// forwards chunks to sink. The portaudio callback must never block, so a
// full sink drops the chunk.
type microphone struct {
	stream *portaudio.Stream
	sink   chan<- []byte
}

func openMicrophone(rate, framesPerBuffer int, sink chan<- []byte) (*microphone, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("default input device: %w", err)
	}
	slog.Info("capturing from input device", "name", dev.Name, "rate", rate)

	m := &microphone{sink: sink}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: framesPerBuffer,
	}
	m.stream, err = portaudio.OpenStream(params, m.onCapture)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := m.stream.Start(); err != nil {
		m.stream.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	return m, nil
}

func (m *microphone) onCapture(in []int16) {
	select {
	case m.sink <- audio.Int16ToBytes(in):
	default:
	}
}

func (m *microphone) Close() error {
	if err := m.stream.Stop(); err != nil {
		m.stream.Close()
		return err
	}
	return m.stream.Close()
}

// speaker plays mono 16-bit PCM on the default output device through a
// sample ring buffer. Flush drops everything queued, which is how barge-in
// silences the assistant mid-sentence.
type speaker struct {
	stream *portaudio.Stream

	mu      sync.Mutex
	pending []int16
}

func openSpeaker(rate, framesPerBuffer int) (*speaker, error) {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("default output device: %w", err)
	}
	slog.Info("playing on output device", "name", dev.Name, "rate", rate)

	s := &speaker{}
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  10 * time.Millisecond,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: framesPerBuffer,
	}
	s.stream, err = portaudio.OpenStream(params, s.onPlayback)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := s.stream.Start(); err != nil {
		s.stream.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	return s, nil
}

func (s *speaker) onPlayback(out []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := copy(out, s.pending)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	s.pending = s.pending[n:]
}

// Play queues a chunk of synthesized audio.
func (s *speaker) Play(chunk dialog.AudioChunk) {
	samples := audio.BytesToInt16(chunk.Data)
	s.mu.Lock()
	s.pending = append(s.pending, samples...)
	s.mu.Unlock()
}

// Flush drops all queued audio.
func (s *speaker) Flush() {
	s.mu.Lock()
	s.pending = s.pending[:0]
	s.mu.Unlock()
}

func (s *speaker) Close() error {
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return err
	}
	return s.stream.Close()
}
