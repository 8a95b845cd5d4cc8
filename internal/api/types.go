package api

import (
	"time"

	"livewhisper/ai"
	"livewhisper/models"
	"livewhisper/session"
)

// Message WebSocket message structure
type Message struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`

	// Transcribe Parameters
	Audio      string `json:"audio,omitempty"` // base64 PCM float32 little-endian
	SampleRate int    `json:"sampleRate,omitempty"`
	Path       string `json:"path,omitempty"` // файл на стороне сервера
	Language   string `json:"language,omitempty"`
	Task       string `json:"task,omitempty"`
	Timestamps bool   `json:"timestamps,omitempty"`
	Capacity   int    `json:"capacity,omitempty"`
	Replace    bool   `json:"replace,omitempty"`

	// Decoding progress
	SessionID string `json:"sessionId,omitempty"`
	Delta     string `json:"delta,omitempty"`
	Text      string `json:"text,omitempty"`
	Tokens    []int  `json:"tokens,omitempty"`
	Steps     int    `json:"steps,omitempty"`

	// Responses
	Session  *session.Session `json:"session,omitempty"`
	Sessions []*SessionInfo   `json:"sessions,omitempty"`
	Engine   *ai.EngineInfo   `json:"engine,omitempty"`

	// Models
	Models   []models.ModelState `json:"models,omitempty"`
	ModelID  string              `json:"modelId,omitempty"`
	Progress float64             `json:"progress,omitempty"`
	Error    string              `json:"error,omitempty"`
}

type SessionInfo struct {
	ID         string    `json:"id"`
	StartTime  time.Time `json:"startTime"`
	Status     string    `json:"status"`
	Language   string    `json:"language"`
	Model      string    `json:"model"`
	DurationMs int64     `json:"durationMs"`
	Transcript string    `json:"transcript"`
}

func newSessionInfo(s session.Session) *SessionInfo {
	return &SessionInfo{
		ID:         s.ID,
		StartTime:  s.StartTime,
		Status:     string(s.Status),
		Language:   s.Language,
		Model:      s.Model,
		DurationMs: s.DurationMs,
		Transcript: s.Transcript,
	}
}
