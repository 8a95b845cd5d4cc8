// Package ai предоставляет интерфейсы и реализации для транскрипции речи
package ai

import (
	"context"
	"fmt"
	"time"
)

// Параметры входного окна модели
const (
	SampleRate      = 16000 // модель ожидает 16kHz mono
	MaxClipSeconds  = 30    // фиксированное окно контекста
	MaxSamples      = MaxClipSeconds * SampleRate
	DefaultCapacity = 100 // максимум токенов в выходной последовательности
	MaxCapacity     = 448 // текстовый контекст декодера Whisper
)

// Clip аудио клип: mono float32 PCM
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration возвращает длительность клипа
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Options параметры одного запроса транскрипции
type Options struct {
	Language   string // код языка, "" = en
	Task       Task   // transcribe или translate
	Timestamps bool   // разрешить таймстемп-токены
	Capacity   int    // ёмкость выходной последовательности, 0 = DefaultCapacity
}

// Validate проверяет язык, задачу и ёмкость до начала декодирования
func (o Options) Validate() error {
	prefix, err := Prefix(o)
	if err != nil {
		return err
	}
	capacity := o.capacity()
	if capacity > MaxCapacity {
		return fmt.Errorf("%w: capacity %d, max %d", ErrSequenceCapacityExceeded, capacity, MaxCapacity)
	}
	if len(prefix) >= capacity {
		return fmt.Errorf("%w: prefix of %d tokens, capacity %d", ErrSequenceCapacityExceeded, len(prefix), capacity)
	}
	return nil
}

func (o Options) capacity() int {
	if o.Capacity <= 0 {
		return DefaultCapacity
	}
	return o.Capacity
}

// Result итог транскрипции
type Result struct {
	Text   string `json:"text"`
	Tokens []int  `json:"tokens"`
	State  State  `json:"state"`
	// Malformed токены с битыми байтами, показаны как U+FFFD
	Malformed int `json:"malformed,omitempty"`
}

// TranscriptionEngine интерфейс для движков транскрипции
type TranscriptionEngine interface {
	// Begin кодирует клип и возвращает цикл декодирования в состоянии Decoding.
	// Шаги цикла выполняет вызывающий (по одному на тик).
	Begin(ctx context.Context, clip Clip, opts Options) (*Loop, error)

	// Transcribe синхронно выполняет весь цикл до терминального состояния
	Transcribe(ctx context.Context, clip Clip, opts Options) (*Result, error)

	// SetLanguage устанавливает язык по умолчанию для запросов без языка
	SetLanguage(lang string) error

	// Close освобождает ресурсы движка
	Close()

	// Name возвращает имя движка (для логирования)
	Name() string

	// SupportedLanguages возвращает список поддерживаемых языков
	SupportedLanguages() []string
}

// EngineConfig конфигурация для создания движка
type EngineConfig struct {
	EncoderPath     string // ONNX encoder
	DecoderPath     string // ONNX decoder
	SpectrogramPath string // ONNX log-mel graph; пусто = нативная спектрограмма
	VocabPath       string // vocab.json
	Language        string // язык по умолчанию
	UseCoreML       bool
}
