package ai

import (
	"fmt"
	"strings"
)

// Специальные токены словаря Whisper (см. added_tokens модели)
const (
	EndOfText         = 50257
	StartOfTranscript = 50258
	English           = 50259
	German            = 50261
	French            = 50265
	Translate         = 50358 // распознавание с переводом на английский
	Transcribe        = 50359 // распознавание на языке речи
	NoTimestamps      = 50363
	StartTime         = 50364 // начало диапазона таймстемпов
)

// timestampStep шаг таймстемп-токена в секундах
const timestampStep = 0.02

// whisperLanguages порядок языков в мультиязычном словаре.
// Токен языка = English + индекс.
var whisperLanguages = []string{
	"en", "zh", "de", "es", "ru", "ko", "fr", "ja", "pt", "tr",
	"pl", "ca", "nl", "ar", "sv", "it", "id", "hi", "fi", "vi",
	"he", "uk", "el", "ms", "cs", "ro", "da", "hu", "ta", "no",
	"th", "ur", "hr", "bg", "lt", "la", "mi", "ml", "cy", "sk",
	"te", "fa", "lv", "bn", "sr", "az", "sl", "kn", "et", "mk",
	"br", "eu", "is", "hy", "ne", "mn", "bs", "kk", "sq", "sw",
	"gl", "mr", "pa", "si", "km", "sn", "yo", "so", "af", "oc",
	"ka", "be", "tg", "sd", "gu", "am", "yi", "lo", "uz", "fo",
	"ht", "ps", "tk", "nn", "mt", "sa", "lb", "my", "bo", "tl",
	"mg", "as", "tt", "haw", "ln", "ha", "ba", "jw", "su",
}

// Task задача декодера
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// Token возвращает управляющий токен задачи
func (t Task) Token() (int, error) {
	switch t {
	case TaskTranscribe, "":
		return Transcribe, nil
	case TaskTranslate:
		return Translate, nil
	default:
		return 0, fmt.Errorf("unknown task: %q", string(t))
	}
}

// SupportedLanguages возвращает коды языков в порядке словаря
func SupportedLanguages() []string {
	out := make([]string, len(whisperLanguages))
	copy(out, whisperLanguages)
	return out
}

// LanguageToken возвращает токен языка по коду ("en", "de", ...).
// Пустой код означает английский.
func LanguageToken(code string) (int, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return English, nil
	}
	for i, lang := range whisperLanguages {
		if lang == code {
			return English + i, nil
		}
	}
	return 0, fmt.Errorf("unsupported language: %q", code)
}

// IsTimestamp проверяет, является ли токен таймстемпом
func IsTimestamp(id int) bool {
	return id >= StartTime
}

// IsControl проверяет, является ли токен управляющим (не текст и не время)
func IsControl(id int) bool {
	return id >= EndOfText && id < StartTime
}

// Prefix строит управляющий префикс выходной последовательности:
// [START_OF_TRANSCRIPT, язык, задача, NO_TIME_STAMPS].
// С включёнными таймстемпами последний токен заменяется на START_TIME.
func Prefix(opts Options) ([]int, error) {
	lang, err := LanguageToken(opts.Language)
	if err != nil {
		return nil, err
	}
	task, err := opts.Task.Token()
	if err != nil {
		return nil, err
	}
	last := NoTimestamps
	if opts.Timestamps {
		last = StartTime
	}
	return []int{StartOfTranscript, lang, task, last}, nil
}
