package ai

import (
	"context"
	"fmt"
)

// Tensor плоский float32 буфер с формой
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor создаёт тензор и проверяет что форма соответствует данным
func NewTensor(shape []int64, data []float32) (*Tensor, error) {
	t := &Tensor{Shape: shape, Data: data}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate проверяет форму тензора
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("nil tensor")
	}
	if len(t.Shape) == 0 {
		return fmt.Errorf("tensor has no shape")
	}
	size := int64(1)
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor shape %v has non-positive dimension", t.Shape)
		}
		size *= d
	}
	if size != int64(len(t.Data)) {
		return fmt.Errorf("tensor shape %v wants %d values, got %d", t.Shape, size, len(t.Data))
	}
	return nil
}

// SpectrogramModel переводит (1, numSamples) в log-mel спектрограмму
type SpectrogramModel interface {
	Spectrogram(ctx context.Context, samples *Tensor) (*Tensor, error)
}

// AudioEncoder кодирует спектрограмму в encoded audio
type AudioEncoder interface {
	Encode(ctx context.Context, mel *Tensor) (*Tensor, error)
}

// TokenDecoder по последовательности токенов и encoded audio возвращает
// argmax-предсказание следующего токена для каждой позиции входа
type TokenDecoder interface {
	Predict(ctx context.Context, tokens []int, audio *Tensor) ([]int, error)
}

// Argmax возвращает индекс максимального значения.
// При равенстве выигрывает меньший индекс.
func Argmax(row []float32) int {
	if len(row) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := row[0]
	for i, v := range row {
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}
	return maxIdx
}
