package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livewhisper/internal/api"
	"livewhisper/internal/config"
	"livewhisper/internal/metrics"
	"livewhisper/internal/service"
	"livewhisper/session"
)

func main() {
	cfg := config.Load()
	log.Printf("Starting livewhisper: data=%s models=%s model=%s lang=%s tick=%v",
		cfg.DataDir, cfg.ModelsDir, cfg.Model, cfg.Language, cfg.TickInterval)

	sessMgr, err := session.NewManager(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to create session manager: %v", err)
	}

	// Модель не качаем при старте: клиент управляет загрузками через download_model
	modelMgr, engineMgr, err := service.NewEngineStack(cfg, false)
	if err != nil {
		log.Fatalf("Failed to init engine: %v", err)
	}
	defer engineMgr.Close()
	log.Printf("Models directory: %s", modelMgr.GetModelsDir())

	m := metrics.NewMetrics()
	transSvc := service.NewTranscriptionService(sessMgr, engineMgr, m)
	transSvc.TickInterval = cfg.TickInterval
	transSvc.ArchiveAudio = cfg.ArchiveAudio

	server := api.NewServer(cfg, sessMgr, engineMgr, modelMgr, transSvc, m)

	errChan := make(chan error, 1)
	go func() { errChan <- server.Start() }()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			log.Printf("Server error: %v", err)
		}
	case sig := <-stopChan:
		log.Printf("Received %v, shutting down", sig)
	}

	transSvc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	for _, id := range modelMgr.GetDownloadingModels() {
		modelMgr.CancelDownload(id)
	}
	modelMgr.Wait()
	log.Println("Stopped")
}
