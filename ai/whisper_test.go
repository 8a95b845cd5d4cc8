package ai

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWhisperEngine_Transcribe(t *testing.T) {
	dec := &scriptedDecoder{script: []int{0, 1, 2, EndOfText}}
	engine, err := NewWhisperEngineWithModels(&fakeSpectrogram{}, &fakeEncoder{}, dec, newTestVocab(t), "de")
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.Name() != "whisper" {
		t.Errorf("Expected name 'whisper', got %q", engine.Name())
	}

	clip := Clip{Samples: make([]float32, 16000), SampleRate: SampleRate}
	res, err := engine.Transcribe(context.Background(), clip, Options{})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "Hello world!" || res.State != StateFinished {
		t.Errorf("Result = %q (%s)", res.Text, res.State)
	}
	// Язык движка подставляется в префикс
	if dec.inputs[0][1] != German {
		t.Errorf("Expected German language token, got %d", dec.inputs[0][1])
	}
}

func TestWhisperEngine_Begin(t *testing.T) {
	engine, err := NewWhisperEngineWithModels(&fakeSpectrogram{}, &fakeEncoder{}, &scriptedDecoder{script: []int{0}}, newTestVocab(t), "")
	if err != nil {
		t.Fatal(err)
	}

	loop, err := engine.Begin(context.Background(), Clip{SampleRate: SampleRate}, Options{Language: "fr"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if loop.State() != StateDecoding {
		t.Errorf("Expected decoding, got %s", loop.State())
	}

	if _, err := engine.Begin(context.Background(), Clip{SampleRate: 48000}, Options{}); !errors.Is(err, ErrInvalidSampleRate) {
		t.Errorf("Expected ErrInvalidSampleRate, got %v", err)
	}

	engine.Close()
	engine.Close()
	if _, err := engine.Begin(context.Background(), Clip{SampleRate: SampleRate}, Options{}); err == nil {
		t.Error("Expected error after Close")
	}
	if _, err := loop.Step(context.Background()); !errors.Is(err, ErrModelInference) {
		t.Errorf("Expected inference error from closed engine, got %v", err)
	}
}

func TestWhisperEngine_SetLanguage(t *testing.T) {
	engine, err := NewWhisperEngineWithModels(&fakeSpectrogram{}, &fakeEncoder{}, &scriptedDecoder{}, newTestVocab(t), "")
	if err != nil {
		t.Fatal(err)
	}
	if engine.Language() != "en" {
		t.Errorf("Default language = %q", engine.Language())
	}
	if err := engine.SetLanguage("xx"); err == nil {
		t.Error("Expected error for unknown language")
	}
	if err := engine.SetLanguage(" RU "); err != nil || engine.Language() != "ru" {
		t.Errorf("SetLanguage: %v, %q", err, engine.Language())
	}

	if _, err := NewWhisperEngineWithModels(nil, &fakeEncoder{}, &scriptedDecoder{}, newTestVocab(t), ""); !errors.Is(err, ErrModelLoad) {
		t.Errorf("Expected ErrModelLoad for missing model, got %v", err)
	}
}

func TestWhisperEngine_Integration(t *testing.T) {
	// Пропускаем если нет модели
	modelDir := os.Getenv("LIVEWHISPER_MODEL_DIR")
	if modelDir == "" {
		t.Skip("LIVEWHISPER_MODEL_DIR not set")
	}
	if os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH") == "" {
		t.Skip("ONNXRUNTIME_SHARED_LIBRARY_PATH not set")
	}

	engine, err := NewWhisperEngine(EngineConfig{
		EncoderPath: filepath.Join(modelDir, "onnx", "encoder_model.onnx"),
		DecoderPath: filepath.Join(modelDir, "onnx", "decoder_model.onnx"),
		VocabPath:   filepath.Join(modelDir, "vocab.json"),
	})
	if err != nil {
		t.Fatalf("Failed to create Whisper engine: %v", err)
	}
	defer engine.Close()

	// Тишина должна дать терминальное состояние без ошибок
	silence := make([]float32, SampleRate)
	res, err := engine.Transcribe(context.Background(), Clip{Samples: silence, SampleRate: SampleRate}, Options{})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if !res.State.Terminal() {
		t.Errorf("Expected terminal state, got %s", res.State)
	}
	t.Logf("Silence transcription: %q (%d tokens)", res.Text, len(res.Tokens))
}

func TestNewWhisperEngine_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := NewWhisperEngine(EngineConfig{
		EncoderPath: filepath.Join(dir, "encoder.onnx"),
		DecoderPath: filepath.Join(dir, "decoder.onnx"),
		VocabPath:   filepath.Join(dir, "vocab.json"),
	})
	if !errors.Is(err, ErrModelLoad) {
		t.Errorf("Expected ErrModelLoad, got %v", err)
	}
}

func TestArgmaxLogits(t *testing.T) {
	ids, err := argmaxLogits([]int64{1, 2, 3}, []float32{0, 1, 0, 5, 2, 5})
	if err != nil {
		t.Fatalf("argmaxLogits failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 0 {
		t.Errorf("ids = %v, want [1 0]", ids)
	}

	if _, err := argmaxLogits([]int64{1, 2, 3}, make([]float32, 5)); err == nil {
		t.Error("Expected error for size mismatch")
	}
	if _, err := argmaxLogits([]int64{2, 3}, make([]float32, 6)); err == nil {
		t.Error("Expected error for 2D logits")
	}
}
