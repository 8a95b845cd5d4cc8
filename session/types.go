package session

import "time"

// SessionStatus представляет состояние сессии
type SessionStatus string

const (
	SessionStatusDecoding  SessionStatus = "decoding"
	SessionStatusFinished  SessionStatus = "finished"
	SessionStatusTruncated SessionStatus = "truncated"
	SessionStatusFailed    SessionStatus = "failed"
)

// Terminal проверяет, завершена ли сессия
func (s SessionStatus) Terminal() bool {
	return s != SessionStatusDecoding
}

// Session одна транскрипция: запрос, прогресс декодирования и итог
type Session struct {
	ID         string        `json:"id"`
	StartTime  time.Time     `json:"startTime"`
	EndTime    *time.Time    `json:"endTime,omitempty"`
	Status     SessionStatus `json:"status"`
	Language   string        `json:"language"`
	Task       string        `json:"task"`
	Model      string        `json:"model"`
	Source     string        `json:"source,omitempty"` // файл или "mic"/"ws"
	DataDir    string        `json:"-"`
	DurationMs int64         `json:"durationMs"` // длительность клипа
	Steps      int           `json:"steps"`
	Tokens     []int         `json:"tokens,omitempty"`
	Transcript string        `json:"transcript"`
	Error      string        `json:"error,omitempty"`
	HasAudio   bool          `json:"hasAudio,omitempty"`
}

// clone возвращает независимую копию сессии
func (s *Session) clone() Session {
	c := *s
	c.Tokens = append([]int(nil), s.Tokens...)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return c
}

// SessionConfig конфигурация для создания сессии
type SessionConfig struct {
	Language string
	Task     string
	Model    string
	Source   string
	Duration time.Duration
}

// SampleRate частота дискретизации модели
const SampleRate = 16000
