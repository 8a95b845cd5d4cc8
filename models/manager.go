package models

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// ProgressCallback функция обратного вызова для прогресса
type ProgressCallback func(modelID string, progress float64, status ModelStatus, err error)

// Bundle пути к файлам скачанной модели
type Bundle struct {
	EncoderPath     string
	DecoderPath     string
	VocabPath       string
	SpectrogramPath string // пусто если модель без графа спектрограммы
}

// Manager менеджер моделей
type Manager struct {
	modelsDir   string
	hubURL      string
	activeModel string
	downloads   map[string]context.CancelFunc // Активные загрузки
	errors      map[string]string             // последняя ошибка загрузки
	mu          sync.RWMutex
	onProgress  ProgressCallback
	wg          sync.WaitGroup
}

// NewManager создаёт новый менеджер моделей
func NewManager(modelsDir string) (*Manager, error) {
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}

	return &Manager{
		modelsDir: modelsDir,
		hubURL:    DefaultHubURL,
		downloads: make(map[string]context.CancelFunc),
		errors:    make(map[string]string),
	}, nil
}

// SetHubURL меняет адрес HuggingFace (зеркало)
func (m *Manager) SetHubURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if url != "" {
		m.hubURL = url
	}
}

// SetProgressCallback устанавливает callback для прогресса
func (m *Manager) SetProgressCallback(cb ProgressCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onProgress = cb
}

// GetModelsDir возвращает путь к директории моделей
func (m *Manager) GetModelsDir() string {
	return m.modelsDir
}

// GetModelPath возвращает директорию модели
func (m *Manager) GetModelPath(modelID string) string {
	if GetModelByID(modelID) == nil {
		return ""
	}
	return filepath.Join(m.modelsDir, modelID)
}

// GetBundle возвращает пути к файлам модели
func (m *Manager) GetBundle(modelID string) (Bundle, error) {
	info := GetModelByID(modelID)
	if info == nil {
		return Bundle{}, fmt.Errorf("unknown model: %s", modelID)
	}
	dir := m.GetModelPath(modelID)
	b := Bundle{
		EncoderPath: filepath.Join(dir, filepath.FromSlash(info.Files.Encoder)),
		DecoderPath: filepath.Join(dir, filepath.FromSlash(info.Files.Decoder)),
		VocabPath:   filepath.Join(dir, filepath.FromSlash(info.Files.Vocab)),
	}
	if info.Files.Spectrogram != "" {
		path := filepath.Join(dir, filepath.FromSlash(info.Files.Spectrogram))
		if _, err := os.Stat(path); err == nil {
			b.SpectrogramPath = path
		}
	}
	return b, nil
}

// IsModelDownloaded проверяет наличие всех обязательных файлов
func (m *Manager) IsModelDownloaded(modelID string) bool {
	info := GetModelByID(modelID)
	if info == nil {
		return false
	}
	dir := m.GetModelPath(modelID)
	for _, f := range info.Files.RequiredFiles() {
		stat, err := os.Stat(filepath.Join(dir, filepath.FromSlash(f)))
		if err != nil || stat.Size() == 0 {
			return false
		}
	}
	return true
}

// GetActiveModel возвращает ID активной модели
func (m *Manager) GetActiveModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeModel
}

// SetActiveModel устанавливает активную модель
func (m *Manager) SetActiveModel(modelID string) error {
	if !m.IsModelDownloaded(modelID) {
		return fmt.Errorf("model %s is not downloaded", modelID)
	}

	m.mu.Lock()
	m.activeModel = modelID
	m.mu.Unlock()

	log.Printf("Active model set to: %s", modelID)
	return nil
}

// GetAllModelsState возвращает состояние всех моделей
func (m *Manager) GetAllModelsState() []ModelState {
	m.mu.RLock()
	activeModel := m.activeModel
	downloads := make(map[string]bool)
	for id := range m.downloads {
		downloads[id] = true
	}
	failed := make(map[string]string, len(m.errors))
	for id, e := range m.errors {
		failed[id] = e
	}
	m.mu.RUnlock()

	states := make([]ModelState, len(Registry))
	for i, info := range Registry {
		state := ModelState{
			ModelInfo: info,
			Path:      m.GetModelPath(info.ID),
		}

		switch {
		case downloads[info.ID]:
			state.Status = ModelStatusDownloading
		case m.IsModelDownloaded(info.ID):
			if info.ID == activeModel {
				state.Status = ModelStatusActive
			} else {
				state.Status = ModelStatusDownloaded
			}
		case failed[info.ID] != "":
			state.Status = ModelStatusError
			state.Error = failed[info.ID]
		default:
			state.Status = ModelStatusNotDownloaded
		}

		states[i] = state
	}

	return states
}

// DownloadModel запускает скачивание модели в фоне
func (m *Manager) DownloadModel(modelID string) error {
	info := GetModelByID(modelID)
	if info == nil {
		return fmt.Errorf("unknown model: %s", modelID)
	}

	m.mu.Lock()
	if _, exists := m.downloads[modelID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("model %s is already downloading", modelID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.downloads[modelID] = cancel
	delete(m.errors, modelID)
	hubURL := m.hubURL
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.downloads, modelID)
			m.mu.Unlock()
		}()

		progressCb := func(progress float64) {
			m.notifyProgress(modelID, progress, ModelStatusDownloading, nil)
		}

		err := DownloadBundle(ctx, hubURL, *info, m.GetModelPath(modelID), progressCb)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				log.Printf("Download cancelled for model: %s", modelID)
				m.cleanupPartialDownload(modelID)
				m.notifyProgress(modelID, 0, ModelStatusNotDownloaded, nil)
			} else {
				log.Printf("Download failed for model %s: %v", modelID, err)
				m.mu.Lock()
				m.errors[modelID] = err.Error()
				m.mu.Unlock()
				m.notifyProgress(modelID, 0, ModelStatusError, err)
			}
			return
		}

		log.Printf("Download completed for model: %s", modelID)
		m.notifyProgress(modelID, 100, ModelStatusDownloaded, nil)
	}()

	return nil
}

// Wait ждёт завершения всех фоновых загрузок
func (m *Manager) Wait() {
	m.wg.Wait()
}

// EnsureDownloaded скачивает модель, если её нет на диске, и ждёт завершения
func (m *Manager) EnsureDownloaded(modelID string) error {
	if m.IsModelDownloaded(modelID) {
		return nil
	}
	log.Printf("Model %s is not downloaded, fetching from %s", modelID, m.hubURLSnapshot())
	if err := m.DownloadModel(modelID); err != nil {
		return err
	}
	m.Wait()

	if !m.IsModelDownloaded(modelID) {
		m.mu.RLock()
		msg := m.errors[modelID]
		m.mu.RUnlock()
		if msg == "" {
			msg = "download did not complete"
		}
		return fmt.Errorf("failed to download model %s: %s", modelID, msg)
	}
	return nil
}

func (m *Manager) hubURLSnapshot() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubURL
}

// CancelDownload отменяет скачивание модели
func (m *Manager) CancelDownload(modelID string) error {
	m.mu.Lock()
	cancel, exists := m.downloads[modelID]
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("model %s is not downloading", modelID)
	}

	cancel()
	return nil
}

// DeleteModel удаляет скачанную модель
func (m *Manager) DeleteModel(modelID string) error {
	if !m.IsModelDownloaded(modelID) {
		return fmt.Errorf("model %s is not downloaded", modelID)
	}

	// Нельзя удалить активную модель
	m.mu.RLock()
	if m.activeModel == modelID {
		m.mu.RUnlock()
		return fmt.Errorf("cannot delete active model")
	}
	m.mu.RUnlock()

	if err := os.RemoveAll(m.GetModelPath(modelID)); err != nil {
		return fmt.Errorf("failed to delete model directory: %w", err)
	}
	log.Printf("Model deleted: %s", modelID)
	return nil
}

// notifyProgress уведомляет о прогрессе
func (m *Manager) notifyProgress(modelID string, progress float64, status ModelStatus, err error) {
	m.mu.RLock()
	cb := m.onProgress
	m.mu.RUnlock()

	if cb != nil {
		cb(modelID, progress, status, err)
	}
}

// cleanupPartialDownload удаляет частично скачанную модель
func (m *Manager) cleanupPartialDownload(modelID string) {
	if dir := m.GetModelPath(modelID); dir != "" {
		os.RemoveAll(dir)
	}
}

// GetDownloadingModels возвращает список скачиваемых моделей
func (m *Manager) GetDownloadingModels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]string, 0, len(m.downloads))
	for id := range m.downloads {
		result = append(result, id)
	}
	return result
}
