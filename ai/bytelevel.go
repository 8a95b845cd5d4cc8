package ai

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const replacementChar = "\uFFFD"

// shiftedBytes байты, которые byte-level токенизатор заменяет печатными
// символами U+0100, U+0101, ... (таблица bytes_to_unicode GPT-2).
// Строится один раз, дальше только чтение.
var shiftedBytes = buildShiftedBytes()

func isPrintableByte(b int) bool {
	return ('!' <= b && b <= '~') || (0xA1 <= b && b <= 0xAC) || (0xAE <= b && b <= 0xFF)
}

func buildShiftedBytes() []byte {
	out := make([]byte, 0, 68)
	for b := 0; b < 256; b++ {
		if !isPrintableByte(b) {
			out = append(out, byte(b))
		}
	}
	return out
}

// shiftDown возвращает символ с кодом исходного байта.
// ok=false если плейсхолдера нет в таблице.
func shiftDown(r rune) (rune, bool) {
	if r < 256 {
		return r, true
	}
	idx := int(r - 256)
	if idx >= len(shiftedBytes) {
		return 0, false
	}
	return rune(shiftedBytes[idx]), true
}

// fragmentBytes переводит сырой фрагмент словаря в исходные UTF-8 байты:
// сдвиг плейсхолдеров вниз, затем ISO-8859-1 (один символ = один байт)
func fragmentBytes(fragment string) ([]byte, error) {
	out := make([]byte, 0, len(fragment))
	var bad error
	for _, r := range fragment {
		shifted, ok := shiftDown(r)
		if ok {
			if b, ok := charmap.ISO8859_1.EncodeRune(shifted); ok {
				out = append(out, b)
				continue
			}
		}
		if bad == nil {
			bad = fmt.Errorf("%w: rune %U in %q", ErrMalformedByteSequence, r, fragment)
		}
		out = append(out, replacementChar...)
	}
	return out, bad
}

// formatTimestamp рендерит таймстемп-токен как "(time=1.5)"
func formatTimestamp(id int) string {
	seconds := float32(id-StartTime) * float32(timestampStep)
	return "(time=" + strconv.FormatFloat(float64(seconds), 'g', -1, 32) + ")"
}

// Detokenizer переводит токены в отображаемый текст
type Detokenizer struct {
	vocab *Vocabulary
}

// NewDetokenizer создаёт детокенизатор поверх словаря
func NewDetokenizer(vocab *Vocabulary) *Detokenizer {
	return &Detokenizer{vocab: vocab}
}

// TokenBytes возвращает байты токена. Управляющие токены дают nil,
// таймстемпы дают аннотацию времени. При ошибке байты всё равно
// возвращаются с U+FFFD на месте битых символов.
func (d *Detokenizer) TokenBytes(id int) ([]byte, error) {
	switch {
	case IsTimestamp(id):
		return []byte(formatTimestamp(id)), nil
	case IsControl(id):
		return nil, nil
	}
	fragment, ok := d.vocab.Fragment(id)
	if !ok {
		return []byte(replacementChar), fmt.Errorf("%w: unknown token %d", ErrMalformedByteSequence, id)
	}
	return fragmentBytes(fragment)
}

// TokenText возвращает текст одного токена, битые последовательности
// заменяются на U+FFFD
func (d *Detokenizer) TokenText(id int) string {
	s := d.NewStream()
	return s.Write(id) + s.Flush()
}

// Decode переводит последовательность токенов в текст
func (d *Detokenizer) Decode(ids []int) string {
	s := d.NewStream()
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(s.Write(id))
	}
	b.WriteString(s.Flush())
	return b.String()
}

// NewStream создаёт инкрементальный декодер
func (d *Detokenizer) NewStream() *TextStream {
	return &TextStream{detok: d}
}

// TextStream инкрементально переводит токены в текст. Незавершённая
// UTF-8 последовательность в конце токена держится до следующего токена.
type TextStream struct {
	detok   *Detokenizer
	pending []byte
	errors  int
}

// Write добавляет токен и возвращает готовый к показу текст
func (s *TextStream) Write(id int) string {
	if IsTimestamp(id) {
		return s.Flush() + formatTimestamp(id)
	}
	b, err := s.detok.TokenBytes(id)
	if err != nil {
		s.errors++
	}
	s.pending = append(s.pending, b...)
	return s.drain(false)
}

// Flush выдаёт остаток буфера, незавершённые байты становятся U+FFFD
func (s *TextStream) Flush() string {
	return s.drain(true)
}

// Malformed возвращает число токенов с битыми фрагментами
func (s *TextStream) Malformed() int {
	return s.errors
}

func (s *TextStream) drain(final bool) string {
	if len(s.pending) == 0 {
		return ""
	}
	var b strings.Builder
	buf := s.pending
	for len(buf) > 0 {
		r, size := utf8.DecodeRune(buf)
		if r == utf8.RuneError && size <= 1 {
			if !final && !utf8.FullRune(buf) {
				break
			}
			b.WriteString(replacementChar)
			buf = buf[1:]
			continue
		}
		b.Write(buf[:size])
		buf = buf[size:]
	}
	s.pending = append(s.pending[:0], buf...)
	return b.String()
}
