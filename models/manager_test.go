package models

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	seen := make(map[string]bool)
	for _, m := range Registry {
		if seen[m.ID] {
			t.Errorf("Duplicate model id %s", m.ID)
		}
		seen[m.ID] = true
		if m.Repo == "" || m.Files.Encoder == "" || m.Files.Decoder == "" || m.Files.Vocab == "" {
			t.Errorf("Model %s has incomplete bundle: %+v", m.ID, m.Files)
		}
	}

	if GetModelByID("whisper-tiny") == nil {
		t.Error("whisper-tiny missing")
	}
	if GetModelByID("missing") != nil {
		t.Error("Unknown id must return nil")
	}
	if len(GetRecommendedModels()) == 0 {
		t.Error("Expected at least one recommended model")
	}
	if len(GetModelsByEngine(EngineTypeWhisper)) != len(Registry) {
		t.Error("All models are Whisper bundles")
	}
}

func TestParseSiblings(t *testing.T) {
	body := `{"id":"onnx-community/whisper-tiny","siblings":[{"rfilename":"vocab.json"},{"rfilename":"onnx/encoder_model.onnx"},{"rfilename":""}]}`
	files, err := parseSiblings([]byte(body))
	if err != nil {
		t.Fatalf("parseSiblings failed: %v", err)
	}
	if len(files) != 2 || files[0] != "vocab.json" || files[1] != "onnx/encoder_model.onnx" {
		t.Errorf("files = %v", files)
	}

	if _, err := parseSiblings([]byte(`{"id":"x"}`)); err == nil {
		t.Error("Expected error without siblings")
	}
	if _, err := parseSiblings([]byte(`not json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

// fakeHub отдаёт листинг репозитория и файлы
func fakeHub(t *testing.T, repo string, files map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/"+repo, func(w http.ResponseWriter, r *http.Request) {
		var siblings []string
		for name := range files {
			siblings = append(siblings, fmt.Sprintf(`{"rfilename":%q}`, name))
		}
		fmt.Fprintf(w, `{"siblings":[%s]}`, strings.Join(siblings, ","))
	})
	mux.HandleFunc("/"+repo+"/resolve/main/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/"+repo+"/resolve/main/")
		content, ok := files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(content))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestManager_DownloadModel(t *testing.T) {
	info := GetModelByID("whisper-tiny")
	srv := fakeHub(t, info.Repo, map[string]string{
		info.Files.Encoder: "encoder",
		info.Files.Decoder: "decoder",
		info.Files.Vocab:   `{"a":0}`,
		"README.md":        "readme",
	})

	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mgr.SetHubURL(srv.URL)

	var mu sync.Mutex
	var last ModelStatus
	mgr.SetProgressCallback(func(modelID string, progress float64, status ModelStatus, err error) {
		mu.Lock()
		last = status
		mu.Unlock()
	})

	if err := mgr.DownloadModel("whisper-tiny"); err != nil {
		t.Fatalf("DownloadModel failed: %v", err)
	}
	mgr.Wait()

	mu.Lock()
	if last != ModelStatusDownloaded {
		t.Errorf("Last status = %s", last)
	}
	mu.Unlock()

	if !mgr.IsModelDownloaded("whisper-tiny") {
		t.Fatal("Model should be downloaded")
	}
	bundle, err := mgr.GetBundle("whisper-tiny")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(bundle.EncoderPath)
	if err != nil || string(data) != "encoder" {
		t.Errorf("Encoder file: %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(mgr.GetModelPath("whisper-tiny"), "README.md")); err == nil {
		t.Error("Files outside the bundle must not be downloaded")
	}

	if err := mgr.SetActiveModel("whisper-tiny"); err != nil {
		t.Fatal(err)
	}
	states := mgr.GetAllModelsState()
	for _, s := range states {
		if s.ID == "whisper-tiny" && s.Status != ModelStatusActive {
			t.Errorf("Expected active status, got %s", s.Status)
		}
	}

	if err := mgr.DeleteModel("whisper-tiny"); err == nil {
		t.Error("Active model must not be deletable")
	}
}

func TestManager_DownloadMissingFile(t *testing.T) {
	info := GetModelByID("whisper-base")
	srv := fakeHub(t, info.Repo, map[string]string{
		info.Files.Encoder: "encoder",
		info.Files.Vocab:   `{"a":0}`,
	})

	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mgr.SetHubURL(srv.URL)

	if err := mgr.DownloadModel("whisper-base"); err != nil {
		t.Fatal(err)
	}
	mgr.Wait()

	if mgr.IsModelDownloaded("whisper-base") {
		t.Error("Model without decoder must not count as downloaded")
	}
	for _, s := range mgr.GetAllModelsState() {
		if s.ID == "whisper-base" && (s.Status != ModelStatusError || s.Error == "") {
			t.Errorf("Expected error state, got %s %q", s.Status, s.Error)
		}
	}
}

func TestManager_DeleteModel(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.DeleteModel("whisper-small"); err == nil {
		t.Error("Expected error for missing model")
	}

	info := GetModelByID("whisper-small")
	for _, f := range info.Files.RequiredFiles() {
		path := filepath.Join(mgr.GetModelPath(info.ID), filepath.FromSlash(f))
		os.MkdirAll(filepath.Dir(path), 0755)
		os.WriteFile(path, []byte("x"), 0644)
	}
	if err := mgr.DeleteModel("whisper-small"); err != nil {
		t.Fatalf("DeleteModel failed: %v", err)
	}
	if mgr.IsModelDownloaded("whisper-small") {
		t.Error("Model still present after delete")
	}
}

func TestDownloadBundle_Cancelled(t *testing.T) {
	info := GetModelByID("whisper-tiny")
	srv := fakeHub(t, info.Repo, map[string]string{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := DownloadBundle(ctx, srv.URL, *info, t.TempDir(), nil)
	if err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestManager_CancelDownload_NotRunning(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.CancelDownload("whisper-tiny"); err == nil {
		t.Error("Expected error when nothing is downloading")
	}
}

func TestManager_EnsureDownloaded(t *testing.T) {
	info := GetModelByID("whisper-tiny")
	srv := fakeHub(t, info.Repo, map[string]string{
		info.Files.Encoder: "encoder",
		info.Files.Decoder: "decoder",
		info.Files.Vocab:   `{"a":0}`,
	})

	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mgr.SetHubURL(srv.URL)

	if err := mgr.EnsureDownloaded("whisper-tiny"); err != nil {
		t.Fatalf("EnsureDownloaded failed: %v", err)
	}
	// Второй вызов ничего не качает
	srv.Close()
	if err := mgr.EnsureDownloaded("whisper-tiny"); err != nil {
		t.Errorf("Downloaded model must not be fetched again: %v", err)
	}

	if err := mgr.EnsureDownloaded("whisper-base"); err == nil {
		t.Error("Expected error with hub down")
	}
	if err := mgr.EnsureDownloaded("missing"); err == nil {
		t.Error("Expected error for unknown model")
	}
}
