package session

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"livewhisper/ai"
)

// LoadClip читает WAV или MP3 в моно клип. Частота не меняется:
// клип не в 16 kHz отклонит препроцессор.
func LoadClip(path string) (ai.Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return ai.Clip{}, err
	}
	defer f.Close()

	var samples []float32
	var rate int

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		samples, rate, err = ReadWAV(f)
	case ".mp3":
		samples, rate, err = readMP3(f)
	default:
		// Определяем формат по сигнатуре
		magic, _ := bufio.NewReader(f).Peek(4)
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return ai.Clip{}, serr
		}
		switch {
		case string(magic) == "RIFF":
			samples, rate, err = ReadWAV(f)
		case string(magic[:min(3, len(magic))]) == "ID3" || (len(magic) >= 2 && magic[0] == 0xFF && magic[1]&0xE0 == 0xE0):
			samples, rate, err = readMP3(f)
		default:
			return ai.Clip{}, fmt.Errorf("unsupported format: %s (supported: wav/mp3)", filepath.Ext(path))
		}
	}
	if err != nil {
		return ai.Clip{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	clip := ai.Clip{Samples: samples, SampleRate: rate}
	log.Printf("Loaded clip %s: %d samples at %d Hz (%v)", path, len(samples), rate, clip.Duration())
	return clip, nil
}

func readMP3(r io.Reader) ([]float32, int, error) {
	reader, err := NewMP3ReaderFrom(r)
	if err != nil {
		return nil, 0, err
	}
	samples, err := reader.ReadAllMono()
	if err != nil {
		return nil, 0, err
	}
	return samples, reader.SampleRate(), nil
}
