package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager управляет сессиями транскрипции. Сессии отдаются наружу
// только копиями.
type Manager struct {
	sessions map[string]*Session
	activeID string
	dataDir  string
	mu       sync.RWMutex

	// Callbacks
	onSessionUpdated func(s Session)
}

// NewManager создаёт новый менеджер сессий
func NewManager(dataDir string) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	m := &Manager{
		sessions: make(map[string]*Session),
		dataDir:  dataDir,
	}

	// Загружаем существующие сессии
	if err := m.LoadSessions(); err != nil {
		// Не критично, просто логируем
		log.Printf("Warning: failed to load sessions: %v", err)
	}

	return m, nil
}

// SetOnSessionUpdated устанавливает callback на смену статуса сессии:
// создание, завершение, архивирование аудио. Прогресс не уведомляется.
func (m *Manager) SetOnSessionUpdated(fn func(s Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSessionUpdated = fn
}

// CreateSession создаёт новую сессию в статусе decoding
func (m *Manager) CreateSession(cfg SessionConfig) (Session, error) {
	m.mu.Lock()
	if m.activeID != "" {
		active := m.activeID
		m.mu.Unlock()
		return Session{}, fmt.Errorf("session already active: %s", active)
	}
	snapshot, err := m.createLocked(cfg)
	fn := m.onSessionUpdated
	m.mu.Unlock()

	if err != nil {
		return Session{}, err
	}
	log.Printf("Session created: %s (language=%s model=%s)", snapshot.ID, cfg.Language, cfg.Model)
	if fn != nil {
		fn(snapshot)
	}
	return snapshot, nil
}

func (m *Manager) createLocked(cfg SessionConfig) (Session, error) {

	id := uuid.New().String()
	sessionDir := filepath.Join(m.dataDir, id)

	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return Session{}, fmt.Errorf("failed to create session dir: %w", err)
	}

	session := &Session{
		ID:         id,
		StartTime:  time.Now(),
		Status:     SessionStatusDecoding,
		Language:   cfg.Language,
		Task:       cfg.Task,
		Model:      cfg.Model,
		Source:     cfg.Source,
		DataDir:    sessionDir,
		DurationMs: cfg.Duration.Milliseconds(),
	}

	if err := saveMeta(session); err != nil {
		os.RemoveAll(sessionDir)
		return Session{}, err
	}

	m.sessions[id] = session
	m.activeID = id
	return session.clone(), nil
}

// UpdateProgress обновляет текст сессии без записи на диск
func (m *Manager) UpdateProgress(id, transcript string, steps int) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session not found: %s", id)
	}
	session.Transcript = transcript
	session.Steps = steps
	m.mu.Unlock()
	return nil
}

// FinishSession фиксирует итог сессии и сохраняет meta.json
func (m *Manager) FinishSession(id string, status SessionStatus, transcript string, tokens []int, steps int, cause error) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session not found: %s", id)
	}
	if m.activeID == id {
		m.activeID = ""
	}

	now := time.Now()
	session.EndTime = &now
	session.Status = status
	session.Transcript = transcript
	session.Tokens = append([]int(nil), tokens...)
	session.Steps = steps
	if cause != nil {
		session.Error = cause.Error()
	}
	err := saveMeta(session)
	snapshot := session.clone()
	fn := m.onSessionUpdated
	m.mu.Unlock()

	if err != nil {
		return err
	}

	log.Printf("Session %s: %s after %d steps", id, status, steps)
	if fn != nil {
		fn(snapshot)
	}
	return nil
}

// GetSession возвращает копию сессии по ID
func (m *Manager) GetSession(id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session not found: %s", id)
	}
	return session.clone(), nil
}

// ListSessions возвращает копии всех сессий, новые первые
func (m *Manager) ListSessions() []Session {
	m.mu.RLock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s.clone())
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})

	return sessions
}

// DeleteSession удаляет сессию и её файлы
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}

	if m.activeID == id {
		return fmt.Errorf("cannot delete active session")
	}

	if err := os.RemoveAll(session.DataDir); err != nil {
		return fmt.Errorf("failed to delete session files: %w", err)
	}

	delete(m.sessions, id)
	return nil
}

// LoadSessions загружает сессии с диска при старте
func (m *Manager) LoadSessions() error {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		metaPath := filepath.Join(m.dataDir, entry.Name(), "meta.json")
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}

		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}

		// Устанавливаем DataDir (не сохраняется в JSON)
		session.DataDir = filepath.Join(m.dataDir, entry.Name())

		// Сессия прервана остановкой процесса
		if session.Status == SessionStatusDecoding {
			session.Status = SessionStatusFailed
			session.Error = "interrupted"
		}

		m.sessions[session.ID] = &session
	}

	return nil
}

// saveMeta сохраняет метаданные сессии, вызывается под m.mu
func saveMeta(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.DataDir, "meta.json"), data, 0644)
}

// GetSessionAudioPath возвращает путь к архиву аудио сессии
func (m *Manager) GetSessionAudioPath(sessionID string) (string, error) {
	session, err := m.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(session.DataDir, "audio.mp3"), nil
}

// ArchiveAudio сохраняет клип сессии в MP3
func (m *Manager) ArchiveAudio(sessionID string, samples []float32) error {
	path, err := m.GetSessionAudioPath(sessionID)
	if err != nil {
		return err
	}

	if err := WriteMP3File(path, samples, SampleRate, 1); err != nil {
		return err
	}
	log.Printf("Session %s: archived %d samples to %s", sessionID, len(samples), path)

	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session not found: %s", sessionID)
	}
	session.HasAudio = true
	if err := saveMeta(session); err != nil {
		m.mu.Unlock()
		return err
	}
	snapshot := session.clone()
	fn := m.onSessionUpdated
	m.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
	return nil
}
