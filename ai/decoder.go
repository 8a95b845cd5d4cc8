package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// State состояние цикла декодирования
type State int

const (
	StateIdle State = iota
	StateDecoding
	StateFinished  // декодер выдал END_OF_TEXT
	StateTruncated // последовательность заполнена без END_OF_TEXT
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDecoding:
		return "decoding"
	case StateFinished:
		return "finished"
	case StateTruncated:
		return "truncated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText для JSON сообщений
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal проверяет, завершён ли цикл
func (s State) Terminal() bool {
	return s == StateFinished || s == StateTruncated
}

// ErrNotDecoding Step вызван без активного запроса
var ErrNotDecoding = errors.New("decoder loop is not decoding")

// ErrLoopBusy Start вызван во время декодирования
var ErrLoopBusy = errors.New("decoder loop is busy")

// Request запрос на декодирование: encoded audio и параметры
type Request struct {
	Audio   *Tensor
	Options Options
}

// Loop авторегрессивный greedy декодер. Один шаг = один вызов модели,
// шаги вызывает планировщик (тик, таймер или синхронный Run).
// Не безопасен для конкурентного использования.
type Loop struct {
	decoder TokenDecoder
	detok   *Detokenizer

	state     State
	tokens    []int // фиксированной ёмкости, свободные слоты = 0
	current   int   // индекс последнего записанного токена
	prefixLen int
	audio     *Tensor
	stream    *TextStream
	text      strings.Builder
	steps     int

	// OnText вызывается с каждым новым фрагментом текста
	OnText func(delta string)
}

// NewLoop создаёт цикл в состоянии Idle
func NewLoop(decoder TokenDecoder, detok *Detokenizer) *Loop {
	return &Loop{decoder: decoder, detok: detok}
}

// State возвращает текущее состояние
func (l *Loop) State() State {
	return l.state
}

// Start записывает управляющий префикс и переводит цикл в Decoding
func (l *Loop) Start(req Request) error {
	if l.state == StateDecoding {
		return ErrLoopBusy
	}
	if err := req.Audio.Validate(); err != nil {
		return fmt.Errorf("%w: encoded audio: %v", ErrModelInference, err)
	}

	if err := req.Options.Validate(); err != nil {
		return err
	}
	prefix, err := Prefix(req.Options)
	if err != nil {
		return err
	}

	l.tokens = make([]int, req.Options.capacity())
	copy(l.tokens, prefix)
	l.prefixLen = len(prefix)
	l.current = len(prefix) - 1
	l.audio = req.Audio
	l.stream = l.detok.NewStream()
	l.text.Reset()
	l.steps = 0
	l.state = StateDecoding
	return nil
}

// Step выполняет один шаг декодирования и возвращает новое состояние.
// Ошибка модели прерывает запрос: цикл возвращается в Idle, уже
// показанный текст сохраняется.
func (l *Loop) Step(ctx context.Context) (State, error) {
	switch l.state {
	case StateDecoding:
	case StateIdle:
		return l.state, ErrNotDecoding
	default:
		return l.state, nil
	}

	if err := ctx.Err(); err != nil {
		l.abort()
		return l.state, err
	}

	predictions, err := l.decoder.Predict(ctx, l.tokens, l.audio)
	if err != nil {
		l.abort()
		return l.state, fmt.Errorf("%w: decoder: %w", ErrModelInference, err)
	}
	if len(predictions) <= l.current {
		l.abort()
		return l.state, fmt.Errorf("%w: decoder returned %d predictions, need position %d",
			ErrModelInference, len(predictions), l.current)
	}

	id := predictions[l.current]
	if id < 0 {
		l.abort()
		return l.state, fmt.Errorf("%w: decoder returned token %d", ErrModelInference, id)
	}

	l.steps++
	l.current++
	l.tokens[l.current] = id

	if id == EndOfText {
		l.finish(StateFinished)
		return l.state, nil
	}

	l.emit(l.stream.Write(id))

	if l.current == len(l.tokens)-1 {
		l.finish(StateTruncated)
	}
	return l.state, nil
}

// Run синхронно выполняет шаги до терминального состояния
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	for l.state == StateDecoding {
		if _, err := l.Step(ctx); err != nil {
			return l.Result(), err
		}
	}
	if l.state == StateIdle {
		return l.Result(), ErrNotDecoding
	}
	return l.Result(), nil
}

// Reset отменяет текущий запрос и возвращает цикл в Idle
func (l *Loop) Reset() {
	l.abort()
}

// Transcript возвращает накопленный текст
func (l *Loop) Transcript() string {
	return l.text.String()
}

// Tokens возвращает записанную часть последовательности, включая префикс
func (l *Loop) Tokens() []int {
	if l.tokens == nil {
		return nil
	}
	out := make([]int, l.current+1)
	copy(out, l.tokens[:l.current+1])
	return out
}

// Generated возвращает токены после префикса
func (l *Loop) Generated() []int {
	tokens := l.Tokens()
	if len(tokens) < l.prefixLen {
		return nil
	}
	return tokens[l.prefixLen:]
}

// Steps возвращает число выполненных шагов
func (l *Loop) Steps() int {
	return l.steps
}

// Capacity возвращает ёмкость выходной последовательности
func (l *Loop) Capacity() int {
	return len(l.tokens)
}

// Result снимок результата
func (l *Loop) Result() *Result {
	res := &Result{
		Text:   l.Transcript(),
		Tokens: l.Generated(),
		State:  l.state,
	}
	if l.stream != nil {
		res.Malformed = l.stream.Malformed()
	}
	return res
}

func (l *Loop) finish(state State) {
	l.emit(l.stream.Flush())
	l.state = state
	l.audio = nil
}

func (l *Loop) abort() {
	l.state = StateIdle
	l.audio = nil
	l.stream = nil
}

func (l *Loop) emit(delta string) {
	if delta == "" {
		return
	}
	l.text.WriteString(delta)
	if l.OnText != nil {
		l.OnText(delta)
	}
}
