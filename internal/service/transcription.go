package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"livewhisper/ai"
	"livewhisper/internal/metrics"
	"livewhisper/session"
)

// DefaultTickInterval один кадр при 60 Гц
const DefaultTickInterval = 16 * time.Millisecond

var (
	// ErrBusy запрос уже декодируется
	ErrBusy = errors.New("transcription in progress")
	// ErrNoEngine модель не выбрана
	ErrNoEngine = errors.New("no active engine")
	// ErrCancelled запрос отменён
	ErrCancelled = errors.New("transcription cancelled")
)

// EngineProvider источник активного движка (ai.EngineManager)
type EngineProvider interface {
	GetActiveEngine() ai.TranscriptionEngine
	GetActiveModelID() string
}

// SubmitOptions параметры запроса
type SubmitOptions struct {
	ai.Options
	Source  string // путь к файлу, "mic" или "ws"
	Replace bool   // отменить текущий запрос вместо ErrBusy
}

// TranscriptionService планировщик декодера: один шаг на тик,
// один запрос одновременно.
type TranscriptionService struct {
	SessionMgr   *session.Manager
	Engines      EngineProvider
	Metrics      *metrics.Metrics
	TickInterval time.Duration
	ArchiveAudio bool

	// Callbacks for UI updates
	OnPartial func(sessionID, delta, transcript string)
	OnDone    func(sess session.Session, result *ai.Result, err error)

	submitMu sync.Mutex // сериализует Submit/Cancel
	mu       sync.Mutex
	job      *job
	wg       sync.WaitGroup
}

type job struct {
	sessionID string
	loop      *ai.Loop
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	text      string
}

func NewTranscriptionService(sessionMgr *session.Manager, engines EngineProvider, m *metrics.Metrics) *TranscriptionService {
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &TranscriptionService{
		SessionMgr:   sessionMgr,
		Engines:      engines,
		Metrics:      m,
		TickInterval: DefaultTickInterval,
	}
}

// Submit кодирует клип и запускает декодирование. Возвращает созданную сессию;
// итог приходит в OnDone.
func (s *TranscriptionService) Submit(ctx context.Context, clip ai.Clip, opts SubmitOptions) (session.Session, error) {
	// Невалидный запрос отклоняется без сессии и не трогает текущий
	if err := ai.ValidateClip(clip); err != nil {
		s.Metrics.Transcriptions.WithLabelValues(metrics.OutcomeRejected).Inc()
		return session.Session{}, err
	}
	if err := opts.Options.Validate(); err != nil {
		s.Metrics.Transcriptions.WithLabelValues(metrics.OutcomeRejected).Inc()
		return session.Session{}, err
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if current := s.current(); current != nil {
		if !opts.Replace {
			s.Metrics.Transcriptions.WithLabelValues(metrics.OutcomeRejected).Inc()
			return session.Session{}, ErrBusy
		}
		log.Printf("Replacing active transcription %s", current.sessionID)
		current.cancel()
		<-current.done
	}

	engine := s.Engines.GetActiveEngine()
	if engine == nil {
		s.Metrics.Transcriptions.WithLabelValues(metrics.OutcomeRejected).Inc()
		return session.Session{}, ErrNoEngine
	}

	sess, err := s.SessionMgr.CreateSession(session.SessionConfig{
		Language: opts.Language,
		Task:     string(opts.Task),
		Model:    s.Engines.GetActiveModelID(),
		Source:   opts.Source,
		Duration: clip.Duration(),
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	s.Metrics.ClipDuration.Observe(clip.Duration().Seconds())

	start := time.Now()
	loop, err := engine.Begin(ctx, clip, opts.Options)
	s.Metrics.EncodeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("Encode failed for session %s: %v", sess.ID, err)
		s.Metrics.Transcriptions.WithLabelValues(metrics.OutcomeFailed).Inc()
		if ferr := s.SessionMgr.FinishSession(sess.ID, session.SessionStatusFailed, "", nil, 0, err); ferr != nil {
			log.Printf("Failed to finish session %s: %v", sess.ID, ferr)
		}
		return session.Session{}, err
	}
	log.Printf("Session %s: encoded %v of audio in %v (%s)", sess.ID, clip.Duration(), time.Since(start), engine.Name())

	if s.ArchiveAudio {
		if err := s.SessionMgr.ArchiveAudio(sess.ID, clip.Samples); err != nil {
			log.Printf("Failed to archive audio for session %s: %v", sess.ID, err)
		}
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	j := &job{
		sessionID: sess.ID,
		loop:      loop,
		ctx:       jobCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	loop.OnText = func(delta string) {
		j.text += delta
		if err := s.SessionMgr.UpdateProgress(j.sessionID, j.text, loop.Steps()); err != nil {
			log.Printf("Failed to update session %s: %v", j.sessionID, err)
		}
		if s.OnPartial != nil {
			s.OnPartial(j.sessionID, delta, j.text)
		}
	}

	s.mu.Lock()
	s.job = j
	s.mu.Unlock()
	s.Metrics.ActiveRequests.Set(1)

	s.wg.Add(1)
	go s.run(j)

	if got, err := s.SessionMgr.GetSession(sess.ID); err == nil {
		sess = got
	}
	return sess, nil
}

// run выполняет ровно один шаг декодера на тик
func (s *TranscriptionService) run(j *job) {
	defer s.wg.Done()

	interval := s.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			j.loop.Reset()
			s.finish(j, ErrCancelled)
			return
		case <-ticker.C:
			start := time.Now()
			state, err := j.loop.Step(j.ctx)
			s.Metrics.StepDuration.Observe(time.Since(start).Seconds())
			s.Metrics.DecodeSteps.Inc()

			if err != nil {
				if errors.Is(err, context.Canceled) {
					err = ErrCancelled
				}
				s.finish(j, err)
				return
			}
			if state.Terminal() {
				s.finish(j, nil)
				return
			}
		}
	}
}

func (s *TranscriptionService) finish(j *job, cause error) {
	result := j.loop.Result()

	status := session.SessionStatusFinished
	outcome := metrics.OutcomeFinished
	switch {
	case errors.Is(cause, ErrCancelled):
		status, outcome = session.SessionStatusFailed, metrics.OutcomeCancelled
	case cause != nil:
		status, outcome = session.SessionStatusFailed, metrics.OutcomeFailed
	case result.State == ai.StateTruncated:
		status, outcome = session.SessionStatusTruncated, metrics.OutcomeTruncated
	}

	if err := s.SessionMgr.FinishSession(j.sessionID, status, result.Text, result.Tokens, j.loop.Steps(), cause); err != nil {
		log.Printf("Failed to finish session %s: %v", j.sessionID, err)
	}
	s.Metrics.Transcriptions.WithLabelValues(outcome).Inc()
	s.Metrics.TokensGenerated.Observe(float64(len(result.Tokens)))
	s.Metrics.MalformedTokens.Add(float64(result.Malformed))
	if result.Malformed > 0 {
		log.Printf("Session %s: %d malformed tokens", j.sessionID, result.Malformed)
	}
	s.Metrics.ActiveRequests.Set(0)

	if cause != nil {
		log.Printf("Session %s %s after %d steps: %v", j.sessionID, outcome, j.loop.Steps(), cause)
	} else {
		log.Printf("Session %s %s after %d steps: %q", j.sessionID, outcome, j.loop.Steps(), result.Text)
	}

	s.mu.Lock()
	if s.job == j {
		s.job = nil
	}
	s.mu.Unlock()
	j.cancel()

	if s.OnDone != nil {
		sess, err := s.SessionMgr.GetSession(j.sessionID)
		if err != nil {
			sess = session.Session{ID: j.sessionID, Status: status}
		}
		s.OnDone(sess, result, cause)
	}
	close(j.done)
}

func (s *TranscriptionService) current() *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// Cancel отменяет текущий запрос и ждёт его завершения.
// Возвращает false если ничего не декодируется.
func (s *TranscriptionService) Cancel() bool {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	j := s.current()
	if j == nil {
		return false
	}
	j.cancel()
	<-j.done
	return true
}

// IsBusy проверяет, идёт ли декодирование
func (s *TranscriptionService) IsBusy() bool {
	return s.current() != nil
}

// ActiveSessionID возвращает ID декодируемой сессии
func (s *TranscriptionService) ActiveSessionID() string {
	if j := s.current(); j != nil {
		return j.sessionID
	}
	return ""
}

// Wait ждёт завершения текущего запроса или отмены ctx
func (s *TranscriptionService) Wait(ctx context.Context) error {
	j := s.current()
	if j == nil {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close отменяет текущий запрос и ждёт горутину декодера
func (s *TranscriptionService) Close() {
	s.Cancel()
	s.wg.Wait()
}
