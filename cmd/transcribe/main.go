// Транскрипция файла через тот же планировщик, что и сервер
// Запуск: go run ./cmd/transcribe [flags] clip.wav
//
// Частичный текст печатается по мере декодирования,
// итог и статус сессии в конце.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"livewhisper/ai"
	"livewhisper/internal/config"
	"livewhisper/internal/metrics"
	"livewhisper/internal/service"
	"livewhisper/session"
)

var errUsage = errors.New("usage: transcribe [flags] <file.wav|file.mp3>")

func main() {
	cfg := config.Load()
	if err := run(cfg); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		log.Printf("Ошибка: %v", err)
		os.Exit(1)
	}
}

// run транскрибирует файл; модели освобождаются при любом исходе
func run(cfg *config.Config) error {
	if len(cfg.Args) != 1 {
		return errUsage
	}
	path := cfg.Args[0]

	clip, err := session.LoadClip(path)
	if err != nil {
		return fmt.Errorf("чтение файла: %w", err)
	}

	sessMgr, err := session.NewManager(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("создание SessionManager: %w", err)
	}

	_, engineMgr, err := service.NewEngineStack(cfg, true)
	if err != nil {
		return fmt.Errorf("загрузка модели: %w", err)
	}
	defer engineMgr.Close()

	svc := service.NewTranscriptionService(sessMgr, engineMgr, metrics.NewMetrics())
	svc.TickInterval = cfg.TickInterval
	svc.ArchiveAudio = cfg.ArchiveAudio
	defer svc.Close()

	type outcome struct {
		sess   session.Session
		result *ai.Result
		err    error
	}
	done := make(chan outcome, 1)
	svc.OnPartial = func(sessionID, delta, transcript string) {
		fmt.Print(delta)
	}
	svc.OnDone = func(sess session.Session, result *ai.Result, err error) {
		done <- outcome{sess, result, err}
	}

	if _, err := svc.Submit(context.Background(), clip, service.SubmitOptions{
		Options: cfg.Options(),
		Source:  path,
	}); err != nil {
		if errors.Is(err, ai.ErrInvalidSampleRate) {
			return fmt.Errorf("нужен WAV/MP3 16 kHz: %w", err)
		}
		return fmt.Errorf("транскрипция: %w", err)
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stopChan)

	select {
	case res := <-done:
		fmt.Println()
		if res.err != nil {
			return fmt.Errorf("декодирование прервано (%s): %w", res.sess.Status, res.err)
		}
		log.Printf("Готово: %s, %d шагов, %d токенов, сессия %s",
			res.sess.Status, res.sess.Steps, len(res.result.Tokens), res.sess.ID)
	case <-stopChan:
		fmt.Println()
		log.Println("Остановка...")
		svc.Cancel()
	}
	return nil
}
