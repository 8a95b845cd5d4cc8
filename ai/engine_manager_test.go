package ai

import (
	"os"
	"path/filepath"
	"testing"

	"livewhisper/models"
)

// writeBundle создаёт пустышки файлов модели в директории менеджера
func writeBundle(t *testing.T, mgr *models.Manager, modelID string) {
	t.Helper()
	info := models.GetModelByID(modelID)
	for _, f := range info.Files.RequiredFiles() {
		path := filepath.Join(mgr.GetModelPath(modelID), filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("stub"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestEngineManager_SetActiveModel(t *testing.T) {
	mgr, err := models.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	em := NewEngineManager(mgr)

	var configs []EngineConfig
	em.SetFactory(func(cfg EngineConfig) (TranscriptionEngine, error) {
		configs = append(configs, cfg)
		return NewWhisperEngineWithModels(&fakeSpectrogram{}, &fakeEncoder{}, &scriptedDecoder{}, newTestVocab(t), cfg.Language)
	})

	if err := em.SetActiveModel("no-such-model"); err == nil {
		t.Error("Expected error for unknown model")
	}
	if err := em.SetActiveModel("whisper-tiny"); err == nil {
		t.Error("Expected error for model that is not downloaded")
	}
	if em.GetActiveEngine() != nil {
		t.Error("No engine expected yet")
	}

	writeBundle(t, mgr, "whisper-tiny")
	if err := em.SetLanguage("de"); err != nil {
		t.Fatal(err)
	}
	if err := em.SetActiveModel("whisper-tiny"); err != nil {
		t.Fatalf("SetActiveModel failed: %v", err)
	}
	if em.GetActiveModelID() != "whisper-tiny" || mgr.GetActiveModel() != "whisper-tiny" {
		t.Errorf("Active model = %q / %q", em.GetActiveModelID(), mgr.GetActiveModel())
	}

	// Повторная активация не пересоздаёт движок
	if err := em.SetActiveModel("whisper-tiny"); err != nil {
		t.Fatal(err)
	}
	if len(configs) != 1 {
		t.Fatalf("Expected 1 engine created, got %d", len(configs))
	}
	cfg := configs[0]
	if cfg.Language != "de" || filepath.Base(cfg.EncoderPath) != "encoder_model.onnx" || filepath.Base(cfg.VocabPath) != "vocab.json" {
		t.Errorf("Unexpected engine config: %+v", cfg)
	}
	if cfg.SpectrogramPath != "" {
		t.Errorf("Expected native spectrogram, got %q", cfg.SpectrogramPath)
	}

	info := em.GetEngineInfo()
	if !info.HasEngine || info.EngineName != "whisper" || len(info.SupportedLanguages) != 99 {
		t.Errorf("Unexpected engine info: %+v", info)
	}

	em.Close()
	if em.GetActiveEngine() != nil || em.GetActiveModelID() != "" {
		t.Error("Close must clear the active engine")
	}
}

func TestEngineManager_SetLanguageRejectsUnknown(t *testing.T) {
	mgr, err := models.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := NewEngineManager(mgr).SetLanguage("klingon"); err == nil {
		t.Error("Expected error for unknown language")
	}
}
