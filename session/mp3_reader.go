package session

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Reader читает MP3 файлы используя чистый Go (без FFmpeg)
type MP3Reader struct {
	decoder    *mp3.Decoder
	closer     io.Closer
	sampleRate int
	channels   int
	length     int64 // длина в байтах (signed 16-bit PCM), -1 если неизвестна
}

// NewMP3Reader открывает MP3 файл для чтения
func NewMP3Reader(filePath string) (*MP3Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	r, err := NewMP3ReaderFrom(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewMP3ReaderFrom декодирует MP3 из произвольного потока
func NewMP3ReaderFrom(src io.Reader) (*MP3Reader, error) {
	decoder, err := mp3.NewDecoder(src)
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	// go-mp3 возвращает длину в байтах (signed 16-bit stereo = 4 bytes per sample)
	return &MP3Reader{
		decoder:    decoder,
		sampleRate: decoder.SampleRate(),
		channels:   2, // go-mp3 всегда декодирует в стерео
		length:     decoder.Length(),
	}, nil
}

// SampleRate возвращает частоту дискретизации
func (r *MP3Reader) SampleRate() int {
	return r.sampleRate
}

// Channels возвращает количество каналов
func (r *MP3Reader) Channels() int {
	return r.channels
}

// Duration возвращает длительность в секундах
func (r *MP3Reader) Duration() float64 {
	if r.length <= 0 {
		return 0
	}
	// 4 байта на сэмпл (16-bit stereo)
	return float64(r.length/4) / float64(r.sampleRate)
}

// ReadAllStereo декодирует поток целиком в отдельные каналы (left, right)
// с исходной частотой дискретизации
func (r *MP3Reader) ReadAllStereo() ([]float32, []float32, error) {
	var left, right []float32
	err := r.decode(func(l, rr float32) {
		left = append(left, l)
		right = append(right, rr)
	})
	return left, right, err
}

// ReadAllMono декодирует поток целиком, каналы усредняются
func (r *MP3Reader) ReadAllMono() ([]float32, error) {
	var mono []float32
	if r.length > 0 {
		mono = make([]float32, 0, r.length/4)
	}
	err := r.decode(func(l, rr float32) {
		mono = append(mono, (l+rr)/2)
	})
	return mono, err
}

// decode читает PCM блоками; один фрейм = 4 байта (16-bit LE, стерео)
func (r *MP3Reader) decode(frame func(l, r float32)) error {
	buf := make([]byte, 16*1024)
	var carry int
	for {
		n, err := r.decoder.Read(buf[carry:])
		n += carry
		whole := n - n%4
		for i := 0; i < whole; i += 4 {
			frame(pcm16ToFloat(buf[i:]), pcm16ToFloat(buf[i+2:]))
		}
		carry = copy(buf, buf[whole:n])

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read PCM data: %w", err)
		}
	}
}

func pcm16ToFloat(b []byte) float32 {
	return float32(int16(binary.LittleEndian.Uint16(b))) / 32768.0
}

// Close закрывает файл
func (r *MP3Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
