package service

import (
	"fmt"
	"log"

	"livewhisper/ai"
	"livewhisper/internal/config"
	"livewhisper/models"
)

// NewEngineStack готовит менеджер моделей и движок активной модели.
// С download=true недостающая модель скачивается.
func NewEngineStack(cfg *config.Config, download bool) (*models.Manager, *ai.EngineManager, error) {
	if cfg.ONNXLibPath != "" {
		ai.SetONNXLibraryPath(cfg.ONNXLibPath)
	}

	modelMgr, err := models.NewManager(cfg.ModelsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create model manager: %w", err)
	}
	modelMgr.SetHubURL(cfg.HubURL)

	engineMgr := ai.NewEngineManager(modelMgr)
	engineMgr.SetUseCoreML(cfg.UseCoreML)
	if err := engineMgr.SetLanguage(cfg.Language); err != nil {
		return nil, nil, err
	}

	if cfg.Model == "" {
		return modelMgr, engineMgr, nil
	}
	if download {
		if err := modelMgr.EnsureDownloaded(cfg.Model); err != nil {
			return nil, nil, err
		}
	}
	if !modelMgr.IsModelDownloaded(cfg.Model) {
		log.Printf("Model %s is not downloaded, engine not started", cfg.Model)
		return modelMgr, engineMgr, nil
	}
	if err := engineMgr.SetActiveModel(cfg.Model); err != nil {
		return nil, nil, fmt.Errorf("failed to load model %s: %w", cfg.Model, err)
	}
	return modelMgr, engineMgr, nil
}
