package ai

import "errors"

// Виды ошибок транскрипции. Сравнивать через errors.Is: конкретные ошибки
// оборачивают их через fmt.Errorf("...: %w").
var (
	// ErrInvalidSampleRate частота дискретизации клипа не 16 kHz
	ErrInvalidSampleRate = errors.New("invalid sample rate")
	// ErrClipTooLong клип длиннее окна модели (30 секунд)
	ErrClipTooLong = errors.New("clip too long")
	// ErrModelLoad модель или словарь не загрузились
	ErrModelLoad = errors.New("model load failure")
	// ErrModelInference вызов модели завершился ошибкой или вернул тензор неверной формы
	ErrModelInference = errors.New("model inference failure")
	// ErrMalformedByteSequence фрагмент словаря не переводится в байты
	ErrMalformedByteSequence = errors.New("malformed byte sequence")
	// ErrSequenceCapacityExceeded префикс не помещается в выходную последовательность
	// или ёмкость больше MaxCapacity
	ErrSequenceCapacityExceeded = errors.New("sequence capacity exceeded")
)
