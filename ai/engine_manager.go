package ai

import (
	"fmt"
	"log"
	"sync"

	"livewhisper/models"
)

// EngineFactory создаёт движок по путям скачанной модели
type EngineFactory func(cfg EngineConfig) (TranscriptionEngine, error)

// defaultEngineFactory загружает WhisperEngine через ONNX Runtime
func defaultEngineFactory(cfg EngineConfig) (TranscriptionEngine, error) {
	return NewWhisperEngine(cfg)
}

// EngineManager управляет активным движком транскрипции.
// Позволяет переключаться между моделями разного размера.
type EngineManager struct {
	modelsManager *models.Manager
	factory       EngineFactory
	activeEngine  TranscriptionEngine
	activeModelID string
	language      string
	useCoreML     bool
	mu            sync.RWMutex
}

// NewEngineManager создаёт новый менеджер движков
func NewEngineManager(modelsManager *models.Manager) *EngineManager {
	return &EngineManager{
		modelsManager: modelsManager,
		factory:       defaultEngineFactory,
	}
}

// SetFactory подменяет способ создания движков
func (em *EngineManager) SetFactory(factory EngineFactory) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.factory = factory
}

// SetUseCoreML включает CoreML для новых движков
func (em *EngineManager) SetUseCoreML(enabled bool) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.useCoreML = enabled
}

// GetActiveEngine возвращает активный движок
func (em *EngineManager) GetActiveEngine() TranscriptionEngine {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.activeEngine
}

// GetActiveModelID возвращает ID активной модели
func (em *EngineManager) GetActiveModelID() string {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.activeModelID
}

// SetActiveModel устанавливает активную модель и создаёт соответствующий движок
func (em *EngineManager) SetActiveModel(modelID string) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	// Если уже активна эта модель - ничего не делаем
	if em.activeModelID == modelID && em.activeEngine != nil {
		return nil
	}

	newEngine, err := em.createEngine(modelID)
	if err != nil {
		return err
	}

	// Закрываем старый движок
	if em.activeEngine != nil {
		em.activeEngine.Close()
	}

	em.activeEngine = newEngine
	em.activeModelID = modelID

	if err := em.modelsManager.SetActiveModel(modelID); err != nil {
		log.Printf("Warning: failed to set active model in models manager: %v", err)
	}

	log.Printf("EngineManager: switched to model %s (engine: %s)", modelID, newEngine.Name())
	return nil
}

func (em *EngineManager) createEngine(modelID string) (TranscriptionEngine, error) {
	modelInfo := models.GetModelByID(modelID)
	if modelInfo == nil {
		return nil, fmt.Errorf("unknown model: %s", modelID)
	}
	if modelInfo.Engine != models.EngineTypeWhisper {
		return nil, fmt.Errorf("unsupported engine type: %s", modelInfo.Engine)
	}
	if !em.modelsManager.IsModelDownloaded(modelID) {
		return nil, fmt.Errorf("model %s is not downloaded", modelID)
	}

	bundle, err := em.modelsManager.GetBundle(modelID)
	if err != nil {
		return nil, err
	}

	engine, err := em.factory(EngineConfig{
		EncoderPath:     bundle.EncoderPath,
		DecoderPath:     bundle.DecoderPath,
		SpectrogramPath: bundle.SpectrogramPath,
		VocabPath:       bundle.VocabPath,
		Language:        em.language,
		UseCoreML:       em.useCoreML,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Whisper engine: %w", err)
	}
	return engine, nil
}

// SetLanguage устанавливает язык по умолчанию для активного и будущих движков
func (em *EngineManager) SetLanguage(lang string) error {
	if _, err := LanguageToken(lang); err != nil {
		return err
	}

	em.mu.Lock()
	em.language = lang
	engine := em.activeEngine
	em.mu.Unlock()

	if engine != nil {
		return engine.SetLanguage(lang)
	}
	return nil
}

// Close закрывает активный движок
func (em *EngineManager) Close() {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.activeEngine != nil {
		em.activeEngine.Close()
		em.activeEngine = nil
	}
	em.activeModelID = ""
}

// EngineInfo сводка об активном движке
type EngineInfo struct {
	ActiveModelID      string   `json:"activeModelId"`
	HasEngine          bool     `json:"hasEngine"`
	EngineName         string   `json:"engineName,omitempty"`
	SupportedLanguages []string `json:"supportedLanguages,omitempty"`
}

// GetEngineInfo возвращает информацию об активном движке
func (em *EngineManager) GetEngineInfo() EngineInfo {
	em.mu.RLock()
	defer em.mu.RUnlock()

	info := EngineInfo{
		ActiveModelID: em.activeModelID,
		HasEngine:     em.activeEngine != nil,
	}
	if em.activeEngine != nil {
		info.EngineName = em.activeEngine.Name()
		info.SupportedLanguages = em.activeEngine.SupportedLanguages()
	}
	return info
}
