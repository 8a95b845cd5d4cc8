package ai

import (
	"context"
	"fmt"
)

// Preprocessor готовит клип к декодированию: проверка, паддинг до 30 секунд,
// спектрограмма и энкодер
type Preprocessor struct {
	spectro SpectrogramModel
	encoder AudioEncoder
}

// NewPreprocessor создаёт препроцессор поверх внешних моделей
func NewPreprocessor(spectro SpectrogramModel, encoder AudioEncoder) *Preprocessor {
	return &Preprocessor{spectro: spectro, encoder: encoder}
}

// ValidateClip проверяет частоту и длительность клипа без аллокаций
func ValidateClip(clip Clip) error {
	if clip.SampleRate != SampleRate {
		return fmt.Errorf("%w: the audio clip should have frequency 16kHz, it has %.3gkHz",
			ErrInvalidSampleRate, float64(clip.SampleRate)/1000)
	}
	if len(clip.Samples) > MaxSamples {
		return fmt.Errorf("%w: must be at most %d seconds, this clip is %.1f seconds",
			ErrClipTooLong, MaxClipSeconds, float64(len(clip.Samples))/float64(SampleRate))
	}
	return nil
}

// Prepare возвращает новый буфер ровно из MaxSamples сэмплов:
// исходные данные в том же порядке, хвост заполнен тишиной
func (p *Preprocessor) Prepare(clip Clip) ([]float32, error) {
	if err := ValidateClip(clip); err != nil {
		return nil, err
	}
	data := make([]float32, MaxSamples)
	copy(data, clip.Samples)
	return data, nil
}

// Encode выполняет Prepare, спектрограмму и энкодер, возвращает encoded audio
func (p *Preprocessor) Encode(ctx context.Context, clip Clip) (*Tensor, error) {
	data, err := p.Prepare(clip)
	if err != nil {
		return nil, err
	}

	input := &Tensor{Shape: []int64{1, MaxSamples}, Data: data}

	mel, err := p.spectro.Spectrogram(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: spectrogram: %w", ErrModelInference, err)
	}
	if err := mel.Validate(); err != nil {
		return nil, fmt.Errorf("%w: spectrogram output: %v", ErrModelInference, err)
	}

	encoded, err := p.encoder.Encode(ctx, mel)
	if err != nil {
		return nil, fmt.Errorf("%w: encoder: %w", ErrModelInference, err)
	}
	if err := encoded.Validate(); err != nil {
		return nil, fmt.Errorf("%w: encoder output: %v", ErrModelInference, err)
	}
	return encoded, nil
}
