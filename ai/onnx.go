package ai

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// CoreML флаги (из coreml_provider_factory.h)
const (
	coremlFlagUseNone    uint32 = 0x000 // Использовать все доступные устройства
	coremlFlagUseCPUOnly uint32 = 0x001 // Только CPU
)

// ONNX Runtime глобальная инициализация
var (
	onnxInitialized bool
	onnxLibPath     string
	onnxInitMu      sync.Mutex
)

// SetONNXLibraryPath задаёт путь к libonnxruntime до первой загрузки модели
func SetONNXLibraryPath(path string) {
	onnxInitMu.Lock()
	defer onnxInitMu.Unlock()
	onnxLibPath = path
}

func initONNXRuntime() error {
	onnxInitMu.Lock()
	defer onnxInitMu.Unlock()

	if onnxInitialized {
		return nil
	}

	libPath := onnxLibPath
	if libPath == "" {
		libPath = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}

	// Если путь не задан, ищем в стандартных местах
	if libPath == "" {
		searchPaths := []string{
			"./libonnxruntime.so",
			"./libonnxruntime.dylib",
			"./onnxruntime.dll",
			"/usr/local/lib/libonnxruntime.so",
			"/opt/homebrew/lib/libonnxruntime.dylib",
		}
		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				libPath = path
				break
			}
		}
	}

	if libPath == "" {
		return fmt.Errorf("ONNX Runtime library not found")
	}
	log.Printf("Using ONNX Runtime library: %s", libPath)
	ort.SetSharedLibraryPath(libPath)

	if err := ort.InitializeEnvironment(); err != nil {
		return err
	}

	onnxInitialized = true
	log.Println("ONNX Runtime initialized successfully")
	return nil
}

// onnxSession сессия одной модели с описанием входов/выходов
type onnxSession struct {
	path    string
	session *ort.DynamicAdvancedSession
	inputs  []ort.InputOutputInfo
	outputs []ort.InputOutputInfo
}

func newONNXSession(path string, useCoreML bool) (*onnxSession, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: model file not found: %s", ErrModelLoad, path)
	}
	if err := initONNXRuntime(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize ONNX Runtime: %w", ErrModelLoad, err)
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get model info: %w", ErrModelLoad, err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create session options: %w", ErrModelLoad, err)
	}
	defer options.Destroy()

	if useCoreML {
		if err := options.AppendExecutionProviderCoreML(coremlFlagUseNone); err != nil {
			// CoreML не доступен - продолжаем на CPU
			log.Printf("CoreML not available, using CPU: %v", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, extractNames(inputInfo), extractNames(outputInfo), options)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ONNX session: %w", ErrModelLoad, err)
	}

	log.Printf("ONNX model %s: inputs=%v outputs=%v", path, extractNames(inputInfo), extractNames(outputInfo))
	return &onnxSession{path: path, session: session, inputs: inputInfo, outputs: outputInfo}, nil
}

// extractNames извлекает имена из информации о входах/выходах
func extractNames(info []ort.InputOutputInfo) []string {
	names := make([]string, len(info))
	for i, inf := range info {
		names[i] = inf.Name
	}
	return names
}

// run выполняет модель и возвращает первый выход. Входы уничтожаются
// вызывающим, выходы здесь.
func (s *onnxSession) run(inputs ...ort.Value) (ort.Value, func(), error) {
	outputs := make([]ort.Value, len(s.outputs))
	if err := s.session.Run(inputs, outputs); err != nil {
		return nil, nil, err
	}
	release := func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}
	if len(outputs) == 0 || outputs[0] == nil {
		release()
		return nil, nil, fmt.Errorf("model %s produced no outputs", s.path)
	}
	return outputs[0], release, nil
}

func (s *onnxSession) close() {
	if s != nil && s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
}

// runFloat выполняет модель с одним float входом и float выходом
func (s *onnxSession) runFloat(input *Tensor) (*Tensor, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	out, release, err := s.run(in)
	if err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	defer release()

	tensor, ok := out.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("model %s: expected float32 output, got %T", s.path, out)
	}

	// Копируем данные (т.к. тензоры будут уничтожены)
	data := make([]float32, len(tensor.GetData()))
	copy(data, tensor.GetData())
	shape := append([]int64(nil), tensor.GetShape()...)
	return NewTensor(shape, data)
}

// OnnxSpectrogram внешняя log-mel модель
type OnnxSpectrogram struct {
	s *onnxSession
}

// NewOnnxSpectrogram загружает модель спектрограммы
func NewOnnxSpectrogram(path string, useCoreML bool) (*OnnxSpectrogram, error) {
	s, err := newONNXSession(path, useCoreML)
	if err != nil {
		return nil, err
	}
	return &OnnxSpectrogram{s: s}, nil
}

// Spectrogram реализует SpectrogramModel
func (m *OnnxSpectrogram) Spectrogram(ctx context.Context, samples *Tensor) (*Tensor, error) {
	return m.s.runFloat(samples)
}

// Close освобождает сессию
func (m *OnnxSpectrogram) Close() { m.s.close() }

// OnnxEncoder аудио энкодер
type OnnxEncoder struct {
	s *onnxSession
}

// NewOnnxEncoder загружает энкодер
func NewOnnxEncoder(path string, useCoreML bool) (*OnnxEncoder, error) {
	s, err := newONNXSession(path, useCoreML)
	if err != nil {
		return nil, err
	}
	return &OnnxEncoder{s: s}, nil
}

// Encode реализует AudioEncoder
func (m *OnnxEncoder) Encode(ctx context.Context, mel *Tensor) (*Tensor, error) {
	return m.s.runFloat(mel)
}

// Close освобождает сессию
func (m *OnnxEncoder) Close() { m.s.close() }

// OnnxDecoder текстовый декодер. Выход модели либо уже сведён argmax
// (int64/int32 [1, T]), либо логиты float32 [1, T, V].
type OnnxDecoder struct {
	s         *onnxSession
	tokensIdx int   // индекс целочисленного входа токенов
	width     int64 // фиксированная ширина входа, <= 0 если динамическая
	int32     bool  // токены подаются как int32
}

// NewOnnxDecoder загружает декодер. Вход токенов определяется по
// целочисленному типу, второй вход - encoded audio.
func NewOnnxDecoder(path string, useCoreML bool) (*OnnxDecoder, error) {
	s, err := newONNXSession(path, useCoreML)
	if err != nil {
		return nil, err
	}
	if len(s.inputs) < 2 {
		s.close()
		return nil, fmt.Errorf("%w: decoder %s needs 2 inputs, has %d", ErrModelLoad, path, len(s.inputs))
	}

	d := &OnnxDecoder{s: s, width: -1}
	for i, in := range s.inputs[:2] {
		if in.DataType == ort.TensorElementDataTypeInt64 || in.DataType == ort.TensorElementDataTypeInt32 {
			d.tokensIdx = i
			break
		}
	}
	tokensInfo := s.inputs[d.tokensIdx]
	if len(tokensInfo.Dimensions) == 2 {
		d.width = tokensInfo.Dimensions[1]
	}
	d.int32 = tokensInfo.DataType == ort.TensorElementDataTypeInt32
	return d, nil
}

// Predict реализует TokenDecoder
func (m *OnnxDecoder) Predict(ctx context.Context, tokens []int, audio *Tensor) ([]int, error) {
	width := int64(len(tokens))
	if m.width > 0 {
		if width > m.width {
			return nil, fmt.Errorf("decoder input width %d, sequence has %d tokens", m.width, width)
		}
		width = m.width
	}

	var tokensTensor ort.Value
	shape := ort.NewShape(1, width)
	if m.int32 {
		data := make([]int32, width)
		for i, t := range tokens {
			data[i] = int32(t)
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("failed to create tokens tensor: %w", err)
		}
		tokensTensor = t
	} else {
		data := make([]int64, width)
		for i, t := range tokens {
			data[i] = int64(t)
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("failed to create tokens tensor: %w", err)
		}
		tokensTensor = t
	}
	defer tokensTensor.Destroy()

	audioTensor, err := ort.NewTensor(ort.NewShape(audio.Shape...), audio.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio tensor: %w", err)
	}
	defer audioTensor.Destroy()

	inputs := []ort.Value{tokensTensor, audioTensor}
	if m.tokensIdx == 1 {
		inputs[0], inputs[1] = audioTensor, tokensTensor
	}
	out, release, err := m.s.run(inputs...)
	if err != nil {
		return nil, fmt.Errorf("failed to run decoder: %w", err)
	}
	defer release()

	switch t := out.(type) {
	case *ort.Tensor[int64]:
		data := t.GetData()
		ids := make([]int, len(data))
		for i, v := range data {
			ids[i] = int(v)
		}
		return ids, nil
	case *ort.Tensor[int32]:
		data := t.GetData()
		ids := make([]int, len(data))
		for i, v := range data {
			ids[i] = int(v)
		}
		return ids, nil
	case *ort.Tensor[float32]:
		return argmaxLogits(t.GetShape(), t.GetData())
	default:
		return nil, fmt.Errorf("unsupported decoder output %T", out)
	}
}

// Close освобождает сессию
func (m *OnnxDecoder) Close() { m.s.close() }

// argmaxLogits сводит логиты [1, T, V] к [T] токенам
func argmaxLogits(shape ort.Shape, data []float32) ([]int, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected logits shape %v", shape)
	}
	steps, vocabSize := int(shape[1]), int(shape[2])
	if steps*vocabSize != len(data) || vocabSize == 0 {
		return nil, fmt.Errorf("logits shape %v does not match %d values", shape, len(data))
	}
	ids := make([]int, steps)
	for t := 0; t < steps; t++ {
		ids[t] = Argmax(data[t*vocabSize : (t+1)*vocabSize])
	}
	return ids, nil
}
