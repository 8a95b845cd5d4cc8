package ai

import (
	"context"
	"errors"
	"testing"
)

// testFragments маленький byte-level словарь. Индекс = id токена.
var testFragments = []string{
	"Hello",  // 0
	"Ġworld", // 1
	"!",      // 2
	"Ã",      // 3: первый байт "é"
	"©",      // 4: второй байт "é"
	"Ġcaf",   // 5
	"Ċ",      // 6: перевод строки
	"Ā",      // 7: байт 0x00
	"Ȁ",      // 8: вне таблицы сдвига
	"ĠÐ",     // 9: первый байт кириллицы
	"¿",      // 10: 0xBF, "п" = D0 BF
}

func newTestVocab(t *testing.T) *Vocabulary {
	t.Helper()
	byFragment := make(map[string]int, len(testFragments))
	for id, f := range testFragments {
		byFragment[f] = id
	}
	vocab, err := NewVocabulary(byFragment)
	if err != nil {
		t.Fatalf("NewVocabulary failed: %v", err)
	}
	return vocab
}

// fakeSpectrogram возвращает тензор (1, 80, 3000) и запоминает вход
type fakeSpectrogram struct {
	calls int
	input *Tensor
	err   error
}

func (f *fakeSpectrogram) Spectrogram(ctx context.Context, samples *Tensor) (*Tensor, error) {
	f.calls++
	f.input = samples
	if f.err != nil {
		return nil, f.err
	}
	return &Tensor{Shape: []int64{1, 80, 3000}, Data: make([]float32, 80*3000)}, nil
}

// fakeEncoder возвращает фиксированный encoded audio
type fakeEncoder struct {
	calls  int
	err    error
	output *Tensor
}

func (f *fakeEncoder) Encode(ctx context.Context, mel *Tensor) (*Tensor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.output != nil {
		return f.output, nil
	}
	return &Tensor{Shape: []int64{1, 4, 2}, Data: make([]float32, 8)}, nil
}

// scriptedDecoder на i-м вызове предсказывает script[i] во всех позициях
type scriptedDecoder struct {
	script []int
	calls  int
	inputs [][]int
	failAt int // номер вызова с ошибкой, 0 = без ошибок
	short  bool
}

var errDecoderBroken = errors.New("decoder broken")

func (d *scriptedDecoder) Predict(ctx context.Context, tokens []int, audio *Tensor) ([]int, error) {
	d.calls++
	d.inputs = append(d.inputs, append([]int(nil), tokens...))
	if d.failAt == d.calls {
		return nil, errDecoderBroken
	}
	if d.short {
		return []int{EndOfText}, nil
	}
	next := EndOfText
	if d.calls-1 < len(d.script) {
		next = d.script[d.calls-1]
	}
	out := make([]int, len(tokens))
	for i := range out {
		out[i] = next
	}
	return out, nil
}

func testAudio() *Tensor {
	return &Tensor{Shape: []int64{1, 4, 2}, Data: make([]float32, 8)}
}
