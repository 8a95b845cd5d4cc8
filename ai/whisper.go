package ai

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
)

// closer модели ONNX освобождают сессии через Close
type closer interface {
	Close()
}

// WhisperEngine движок транскрипции: препроцессор, декодер и детокенизатор
// поверх трёх внешних моделей
type WhisperEngine struct {
	spectro  SpectrogramModel
	encoder  AudioEncoder
	decoder  TokenDecoder
	detok    *Detokenizer
	pre      *Preprocessor
	name     string
	language string
	closed   bool
	mu       sync.Mutex // модели не используются конкурентно
}

var _ TranscriptionEngine = (*WhisperEngine)(nil)

// NewWhisperEngine загружает модели из файлов. Без SpectrogramPath
// используется нативная log-mel спектрограмма.
func NewWhisperEngine(cfg EngineConfig) (*WhisperEngine, error) {
	vocab, err := LoadVocabulary(cfg.VocabPath)
	if err != nil {
		return nil, err
	}

	var spectro SpectrogramModel
	if cfg.SpectrogramPath != "" {
		s, err := NewOnnxSpectrogram(cfg.SpectrogramPath, cfg.UseCoreML)
		if err != nil {
			return nil, fmt.Errorf("failed to load spectrogram model: %w", err)
		}
		spectro = s
	} else {
		spectro = NewMelProcessor(WhisperMelConfig())
	}

	encoder, err := NewOnnxEncoder(cfg.EncoderPath, cfg.UseCoreML)
	if err != nil {
		closeModel(spectro)
		return nil, fmt.Errorf("failed to load encoder: %w", err)
	}

	decoder, err := NewOnnxDecoder(cfg.DecoderPath, cfg.UseCoreML)
	if err != nil {
		closeModel(spectro)
		encoder.Close()
		return nil, fmt.Errorf("failed to load decoder: %w", err)
	}

	e, err := NewWhisperEngineWithModels(spectro, encoder, decoder, vocab, cfg.Language)
	if err != nil {
		closeModel(spectro)
		encoder.Close()
		decoder.Close()
		return nil, err
	}
	log.Printf("Whisper engine initialized: encoder=%s decoder=%s vocab=%d tokens language=%s",
		cfg.EncoderPath, cfg.DecoderPath, vocab.Size(), e.language)
	return e, nil
}

// NewWhisperEngineWithModels собирает движок из готовых моделей
func NewWhisperEngineWithModels(spectro SpectrogramModel, encoder AudioEncoder, decoder TokenDecoder, vocab *Vocabulary, language string) (*WhisperEngine, error) {
	if spectro == nil || encoder == nil || decoder == nil || vocab == nil {
		return nil, fmt.Errorf("%w: whisper engine needs spectrogram, encoder, decoder and vocabulary", ErrModelLoad)
	}
	e := &WhisperEngine{
		spectro: spectro,
		encoder: encoder,
		decoder: decoder,
		detok:   NewDetokenizer(vocab),
		pre:     NewPreprocessor(spectro, encoder),
		name:    "whisper",
	}
	if err := e.SetLanguage(language); err != nil {
		return nil, err
	}
	return e, nil
}

// Begin кодирует клип и запускает цикл декодирования
func (e *WhisperEngine) Begin(ctx context.Context, clip Clip, opts Options) (*Loop, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("whisper engine is closed")
	}
	if opts.Language == "" {
		opts.Language = e.language
	}
	encoded, err := e.pre.Encode(ctx, clip)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	loop := NewLoop(&lockedDecoder{engine: e}, e.detok)
	if err := loop.Start(Request{Audio: encoded, Options: opts}); err != nil {
		return nil, err
	}
	return loop, nil
}

// Transcribe синхронно транскрибирует клип
func (e *WhisperEngine) Transcribe(ctx context.Context, clip Clip, opts Options) (*Result, error) {
	loop, err := e.Begin(ctx, clip, opts)
	if err != nil {
		return nil, err
	}
	return loop.Run(ctx)
}

// SetLanguage устанавливает язык по умолчанию
func (e *WhisperEngine) SetLanguage(lang string) error {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		lang = "en"
	}
	if _, err := LanguageToken(lang); err != nil {
		return err
	}
	e.mu.Lock()
	e.language = lang
	e.mu.Unlock()
	return nil
}

// Language возвращает язык по умолчанию
func (e *WhisperEngine) Language() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.language
}

// Close освобождает модели. Повторный вызов безопасен.
func (e *WhisperEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	closeModel(e.spectro)
	closeModel(e.encoder)
	closeModel(e.decoder)
	log.Printf("Whisper engine closed")
}

// Name возвращает имя движка
func (e *WhisperEngine) Name() string {
	return e.name
}

// SupportedLanguages возвращает поддерживаемые языки
func (e *WhisperEngine) SupportedLanguages() []string {
	return SupportedLanguages()
}

// lockedDecoder сериализует вызовы декодера между циклами одного движка
type lockedDecoder struct {
	engine *WhisperEngine
}

func (d *lockedDecoder) Predict(ctx context.Context, tokens []int, audio *Tensor) ([]int, error) {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	if d.engine.closed {
		return nil, fmt.Errorf("whisper engine is closed")
	}
	return d.engine.decoder.Predict(ctx, tokens, audio)
}

func closeModel(m interface{}) {
	if c, ok := m.(closer); ok {
		c.Close()
	}
}
