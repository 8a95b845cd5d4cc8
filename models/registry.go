// Package models предоставляет управление моделями транскрипции
package models

// EngineType тип движка транскрипции
type EngineType string

const (
	EngineTypeWhisper EngineType = "whisper" // Whisper ONNX (encoder + decoder)
)

// BundleFiles файлы модели внутри HuggingFace репозитория
type BundleFiles struct {
	Encoder     string `json:"encoder"`
	Decoder     string `json:"decoder"`
	Vocab       string `json:"vocab"`
	Spectrogram string `json:"spectrogram,omitempty"` // опционально, иначе нативная спектрограмма
}

// ModelInfo информация о модели
type ModelInfo struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Engine      EngineType  `json:"engine"`
	Size        string      `json:"size"`
	SizeBytes   int64       `json:"sizeBytes"`
	Description string      `json:"description"`
	Languages   []string    `json:"languages"`
	Speed       string      `json:"speed"`
	Recommended bool        `json:"recommended,omitempty"`
	Repo        string      `json:"repo"` // HuggingFace репозиторий
	Files       BundleFiles `json:"files"`
}

// ModelStatus статус модели на устройстве
type ModelStatus string

const (
	ModelStatusNotDownloaded ModelStatus = "not_downloaded"
	ModelStatusDownloading   ModelStatus = "downloading"
	ModelStatusDownloaded    ModelStatus = "downloaded"
	ModelStatusActive        ModelStatus = "active"
	ModelStatusError         ModelStatus = "error"
)

// ModelState состояние модели с информацией
type ModelState struct {
	ModelInfo
	Status   ModelStatus `json:"status"`
	Progress float64     `json:"progress,omitempty"` // 0-100
	Error    string      `json:"error,omitempty"`
	Path     string      `json:"path,omitempty"` // директория скачанной модели
}

// onnxCommunityFiles раскладка файлов в репозиториях onnx-community
var onnxCommunityFiles = BundleFiles{
	Encoder: "onnx/encoder_model.onnx",
	Decoder: "onnx/decoder_model.onnx",
	Vocab:   "vocab.json",
}

// multilingual коды языков мультиязычных моделей
var multilingual = []string{"multi"}

// Registry реестр доступных моделей
var Registry = []ModelInfo{
	{
		ID:          "whisper-tiny",
		Name:        "Whisper Tiny",
		Engine:      EngineTypeWhisper,
		Size:        "151 MB",
		SizeBytes:   151_000_000,
		Description: "Самая быстрая мультиязычная модель, 39M параметров",
		Languages:   multilingual,
		Speed:       "~32x",
		Recommended: true,
		Repo:        "onnx-community/whisper-tiny",
		Files:       onnxCommunityFiles,
	},
	{
		ID:          "whisper-tiny.en",
		Name:        "Whisper Tiny (English)",
		Engine:      EngineTypeWhisper,
		Size:        "151 MB",
		SizeBytes:   151_000_000,
		Description: "Английская версия Tiny",
		Languages:   []string{"en"},
		Speed:       "~32x",
		Repo:        "onnx-community/whisper-tiny.en",
		Files:       onnxCommunityFiles,
	},
	{
		ID:          "whisper-base",
		Name:        "Whisper Base",
		Engine:      EngineTypeWhisper,
		Size:        "290 MB",
		SizeBytes:   290_000_000,
		Description: "Баланс скорости и качества, 74M параметров",
		Languages:   multilingual,
		Speed:       "~16x",
		Repo:        "onnx-community/whisper-base",
		Files:       onnxCommunityFiles,
	},
	{
		ID:          "whisper-small",
		Name:        "Whisper Small",
		Engine:      EngineTypeWhisper,
		Size:        "970 MB",
		SizeBytes:   970_000_000,
		Description: "Лучшее качество среди лёгких моделей, 244M параметров",
		Languages:   multilingual,
		Speed:       "~6x",
		Repo:        "onnx-community/whisper-small",
		Files:       onnxCommunityFiles,
	},
}

// GetModelsByEngine возвращает модели для определённого движка
func GetModelsByEngine(engine EngineType) []ModelInfo {
	var result []ModelInfo
	for _, m := range Registry {
		if m.Engine == engine {
			result = append(result, m)
		}
	}
	return result
}

// GetModelByID возвращает модель по ID
func GetModelByID(id string) *ModelInfo {
	for _, m := range Registry {
		if m.ID == id {
			return &m
		}
	}
	return nil
}

// GetRecommendedModels возвращает рекомендуемые модели
func GetRecommendedModels() []ModelInfo {
	var result []ModelInfo
	for _, m := range Registry {
		if m.Recommended {
			result = append(result, m)
		}
	}
	return result
}

// RequiredFiles возвращает файлы, без которых модель не загрузится
func (b BundleFiles) RequiredFiles() []string {
	return []string{b.Encoder, b.Decoder, b.Vocab}
}

// AllFiles возвращает все файлы модели включая опциональные
func (b BundleFiles) AllFiles() []string {
	files := b.RequiredFiles()
	if b.Spectrogram != "" {
		files = append(files, b.Spectrogram)
	}
	return files
}
