package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/braheezy/shine-mp3/pkg/mp3"
)

// frameSamples сэмплов на канал в одном кадре MPEG-1 Layer III
const frameSamples = 1152

var errWriterClosed = errors.New("mp3 writer is closed")

// MP3Writer кодирует float32 PCM в MP3 (shine, чистый Go) поверх io.Writer
type MP3Writer struct {
	mu         sync.Mutex
	dst        io.Writer
	encoder    *mp3.Encoder
	sampleRate int
	channels   int

	pending []int16 // неполный кадр
	written int64   // сэмплов всех каналов
	closed  bool
}

// NewMP3Writer создаёт кодер. channels 1 или 2.
func NewMP3Writer(dst io.Writer, sampleRate, channels int) (*MP3Writer, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("unsupported channel count: %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	return &MP3Writer{
		dst:        dst,
		encoder:    mp3.NewEncoder(sampleRate, channels),
		sampleRate: sampleRate,
		channels:   channels,
		pending:    make([]int16, 0, 4*frameSamples*channels),
	}, nil
}

// Write принимает сэмплы (стерео чередуется L, R). Полные кадры кодируются сразу.
func (w *MP3Writer) Write(samples []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errWriterClosed
	}
	for _, s := range samples {
		w.pending = append(w.pending, toPCM16(s))
	}
	w.written += int64(len(samples))

	block := frameSamples * w.channels
	if full := len(w.pending) - len(w.pending)%block; full >= 4*block {
		w.encoder.Write(w.dst, w.pending[:full])
		w.pending = append(w.pending[:0], w.pending[full:]...)
	}
	return nil
}

// Duration длительность записанного звука
func (w *MP3Writer) Duration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	frames := w.written / int64(w.channels)
	return time.Duration(frames) * time.Second / time.Duration(w.sampleRate)
}

// Samples количество принятых сэмплов всех каналов
func (w *MP3Writer) Samples() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close дописывает последний кадр, дополненный тишиной. dst не закрывается.
func (w *MP3Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if len(w.pending) > 0 {
		block := frameSamples * w.channels
		for len(w.pending)%block != 0 {
			w.pending = append(w.pending, 0)
		}
		w.encoder.Write(w.dst, w.pending)
		w.pending = nil
	}
	return nil
}

// WriteMP3File кодирует клип в файл целиком. Файл появляется атомарно.
func WriteMP3File(path string, samples []float32, sampleRate, channels int) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".audio-*.mp3")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w, err := NewMP3Writer(tmp, sampleRate, channels)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := w.Write(samples); err != nil {
		tmp.Close()
		return err
	}
	w.Close()
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save mp3: %w", err)
	}
	return nil
}

func toPCM16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * 32767)
}
