package main

import (
	"errors"
	"path/filepath"
	"testing"

	"livewhisper/ai"
	"livewhisper/internal/config"
	"livewhisper/session"
)

func testConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	base := []string{
		"-env", "",
		"-data", filepath.Join(dir, "sessions"),
		"-models", filepath.Join(dir, "models"),
	}
	cfg, err := config.Parse(append(base, args...), func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestRun_Usage(t *testing.T) {
	if err := run(testConfig(t)); !errors.Is(err, errUsage) {
		t.Errorf("Expected usage error, got %v", err)
	}
	if err := run(testConfig(t, "a.wav", "b.wav")); !errors.Is(err, errUsage) {
		t.Errorf("Expected usage error for two files, got %v", err)
	}
}

func TestRun_ReturnsErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.wav")
	if err := run(testConfig(t, missing)); err == nil || errors.Is(err, errUsage) {
		t.Errorf("Expected read error, got %v", err)
	}

	// Модель не скачана и hub недоступен: ошибка возвращается, а не log.Fatal
	clip := filepath.Join(t.TempDir(), "clip.wav")
	if err := session.WriteWAV(clip, make([]float32, ai.SampleRate), ai.SampleRate); err != nil {
		t.Fatal(err)
	}
	if err := run(testConfig(t, "-hub", "http://127.0.0.1:1", clip)); err == nil {
		t.Error("Expected model download error")
	}
}
