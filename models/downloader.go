package models

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultHubURL базовый адрес HuggingFace
const DefaultHubURL = "https://huggingface.co"

// ProgressFunc функция для отчёта о прогрессе (0-100)
type ProgressFunc func(progress float64)

// DownloadFile скачивает файл по URL с отображением прогресса
func DownloadFile(ctx context.Context, url, destPath string, expectedSize int64, onProgress ProgressFunc) error {
	// Создаём директорию если нужно
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Создаём временный файл
	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{
		Timeout: 0, // Без таймаута для больших файлов
	}
	resp, err := client.Do(req)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		os.Remove(tmpPath)
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	totalSize := resp.ContentLength
	if totalSize <= 0 && expectedSize > 0 {
		totalSize = expectedSize
	}

	reader := &progressReader{
		reader:     resp.Body,
		totalSize:  totalSize,
		onProgress: onProgress,
	}

	if _, err := io.Copy(out, reader); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}

	// Закрываем файл перед переименованием
	out.Close()

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// progressReader обёртка для io.Reader с отслеживанием прогресса
type progressReader struct {
	reader       io.Reader
	totalSize    int64
	downloaded   int64
	onProgress   ProgressFunc
	lastReport   time.Time
	reportPeriod time.Duration
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)

		// Ограничиваем частоту отчётов
		now := time.Now()
		if pr.reportPeriod == 0 {
			pr.reportPeriod = 500 * time.Millisecond
		}

		if pr.onProgress != nil && (now.Sub(pr.lastReport) >= pr.reportPeriod || err == io.EOF) {
			pr.lastReport = now
			if pr.totalSize > 0 {
				pr.onProgress(float64(pr.downloaded) / float64(pr.totalSize) * 100)
			}
		}
	}
	return n, err
}

// DownloadBundle скачивает файлы модели из HuggingFace репозитория в destDir,
// сохраняя относительные пути (onnx/encoder_model.onnx и т.д.)
func DownloadBundle(ctx context.Context, hubURL string, info ModelInfo, destDir string, onProgress ProgressFunc) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	log.Printf("Downloading model %s from %s to %s", info.ID, info.Repo, destDir)
	if onProgress != nil {
		onProgress(0)
	}

	files := info.Files.AllFiles()

	// Сверяем с листингом репозитория: без обязательных файлов не качаем вовсе,
	// отсутствующие опциональные пропускаем
	listed, err := ListRepoFiles(ctx, hubURL, info.Repo)
	if err != nil {
		log.Printf("Failed to get file list from API, using registry files: %v", err)
	} else {
		present := make(map[string]bool, len(listed))
		for _, f := range listed {
			present[f] = true
		}
		for _, f := range info.Files.RequiredFiles() {
			if !present[f] {
				return fmt.Errorf("repository %s has no %s", info.Repo, f)
			}
		}
		if info.Files.Spectrogram != "" && !present[info.Files.Spectrogram] {
			log.Printf("Optional file not found, skipping: %s", info.Files.Spectrogram)
			files = info.Files.RequiredFiles()
		}
	}

	totalFiles := len(files)
	for i, filename := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fileURL := fmt.Sprintf("%s/%s/resolve/main/%s", hubURL, info.Repo, filename)
		destPath := filepath.Join(destDir, filepath.FromSlash(filename))

		log.Printf("Downloading [%d/%d]: %s", i+1, totalFiles, filename)

		// Общий прогресс = (завершённые файлы + текущий прогресс) / всего файлов
		fileProgress := func(p float64) {
			if onProgress != nil {
				onProgress((float64(i) + p/100) / float64(totalFiles) * 100)
			}
		}

		if err := DownloadFile(ctx, fileURL, destPath, 0, fileProgress); err != nil {
			if filename == info.Files.Spectrogram {
				log.Printf("Optional file not downloaded, skipping: %s: %v", filename, err)
				continue
			}
			return fmt.Errorf("failed to download %s: %w", filename, err)
		}
	}

	if onProgress != nil {
		onProgress(100)
	}

	log.Printf("Model downloaded successfully: %s", info.ID)
	return nil
}

// ListRepoFiles получает список файлов репозитория через HuggingFace API
func ListRepoFiles(ctx context.Context, hubURL, repo string) ([]string, error) {
	apiURL := fmt.Sprintf("%s/api/models/%s", hubURL, repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseSiblings(body)
}

// parseSiblings извлекает имена файлов из ответа API:
// {"siblings":[{"rfilename":"config.json"}, ...]}
func parseSiblings(body []byte) ([]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid API response")
	}
	siblings := gjson.GetBytes(body, "siblings")
	if !siblings.Exists() {
		return nil, fmt.Errorf("siblings not found in API response")
	}

	var files []string
	for _, name := range siblings.Get("#.rfilename").Array() {
		if name.String() != "" {
			files = append(files, name.String())
		}
	}
	return files, nil
}
