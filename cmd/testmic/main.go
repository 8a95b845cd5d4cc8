// Запись с микрофона и транскрипция
// Запуск: go run ./cmd/testmic [flags] [duration]
// duration по умолчанию 5s, максимум 30s. Ctrl+C завершает запись раньше.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livewhisper/ai"
	"livewhisper/audio"
	"livewhisper/internal/config"
	"livewhisper/internal/service"
	"livewhisper/session"
)

const outputFile = "test_mic.wav"

func main() {
	if err := run(config.Load()); err != nil {
		log.Printf("Ошибка: %v", err)
		os.Exit(1)
	}
}

// run записывает клип и декодирует его; ресурсы закрываются при любом исходе
func run(cfg *config.Config) error {
	duration := 5 * time.Second
	if len(cfg.Args) > 0 {
		d, err := time.ParseDuration(cfg.Args[0])
		if err != nil {
			return fmt.Errorf("неверная длительность %q: %w", cfg.Args[0], err)
		}
		duration = d
	}

	log.Println("=== Тест записи с микрофона ===")
	log.Printf("Формат: %dHz, моно, до %v", audio.SampleRate, duration)

	_, engineMgr, err := service.NewEngineStack(cfg, true)
	if err != nil {
		return fmt.Errorf("загрузка модели: %w", err)
	}
	defer engineMgr.Close()

	engine := engineMgr.GetActiveEngine()
	if engine == nil {
		return fmt.Errorf("нет активной модели: %s", cfg.Model)
	}

	capture, err := audio.NewCapture()
	if err != nil {
		return fmt.Errorf("инициализация захвата: %w", err)
	}
	defer capture.Close()

	devices, err := capture.ListDevices()
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	for _, dev := range devices {
		mark := " "
		if dev.IsDefault {
			mark = "*"
		}
		log.Printf("%s %s", mark, dev.Name)
	}
	if name := os.Getenv("LIVEWHISPER_MIC"); name != "" {
		if err := capture.SetMicrophoneDeviceByName(name); err != nil {
			return fmt.Errorf("микрофон %q не найден: %w", name, err)
		}
	}

	// Ctrl+C останавливает запись, записанное транскрибируется
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("Запись началась...")
	samples, err := capture.Record(ctx, duration)
	if err != nil {
		return fmt.Errorf("запись: %w", err)
	}
	stop()

	clip := ai.Clip{Samples: samples, SampleRate: audio.SampleRate}
	log.Printf("Записано %v (%d семплов)", clip.Duration(), len(samples))

	q := audio.AnalyzeQuality(samples)
	log.Printf("Уровень: RMS=%.4f, Peak=%.4f, DC=%.4f, clipped=%d", q.RMS, q.Peak, q.DCOffset, q.Clipped)
	if q.IsSilent {
		log.Println("Warning: запись почти пустая, проверьте микрофон")
	}

	if err := session.WriteWAV(outputFile, samples, audio.SampleRate); err != nil {
		log.Printf("Warning: failed to save %s: %v", outputFile, err)
	} else {
		log.Printf("Файл: %s", outputFile)
	}

	loop, err := engine.Begin(context.Background(), clip, cfg.Options())
	if err != nil {
		return fmt.Errorf("кодирование: %w", err)
	}
	loop.OnText = func(delta string) { fmt.Print(delta) }

	// Один шаг на кадр, как в сервере
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()
	for range ticker.C {
		state, err := loop.Step(context.Background())
		if err != nil {
			fmt.Println()
			return fmt.Errorf("декодирование: %w", err)
		}
		if state.Terminal() {
			fmt.Println()
			log.Printf("Готово: %s, %d шагов", state, loop.Steps())
			return nil
		}
	}
	return nil
}
