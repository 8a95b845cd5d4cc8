package api

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"

	"livewhisper/ai"
	"livewhisper/internal/config"
	"livewhisper/internal/metrics"
	"livewhisper/internal/service"
	"livewhisper/models"
	"livewhisper/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// checkOrigin пропускает клиентов без Origin (не браузер), тот же хост
// и локальные страницы
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// errPathDisabled чтение файлов по path не настроено
var errPathDisabled = errors.New("path transcription is disabled: audio_dir is not set")

// resolveAudioPath разрешает path внутри dir; относительный путь
// считается от dir, выход за пределы dir (в том числе по симлинку) запрещён
func resolveAudioPath(dir, path string) (string, error) {
	if dir == "" {
		return "", errPathDisabled
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid audio_dir: %w", err)
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return "", fmt.Errorf("invalid audio_dir: %w", err)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("audio file not found: %s", filepath.Base(path))
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside audio_dir", path)
	}
	return resolved, nil
}

// client получатель сообщений: WebSocket соединение или gRPC стрим
type client interface {
	Send(msg *Message) error
}

// wsClient WebSocket соединение; gorilla не допускает конкурентную запись
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

type Server struct {
	Config               *config.Config
	SessionMgr           *session.Manager
	EngineMgr            *ai.EngineManager
	ModelMgr             *models.Manager
	TranscriptionService *service.TranscriptionService
	Metrics              *metrics.Metrics

	clients map[client]bool
	mu      sync.Mutex

	httpServer *http.Server
	grpcServer *grpc.Server
}

func NewServer(
	cfg *config.Config,
	sessMgr *session.Manager,
	engMgr *ai.EngineManager,
	modMgr *models.Manager,
	transSvc *service.TranscriptionService,
	m *metrics.Metrics,
) *Server {
	s := &Server{
		Config:               cfg,
		SessionMgr:           sessMgr,
		EngineMgr:            engMgr,
		ModelMgr:             modMgr,
		TranscriptionService: transSvc,
		Metrics:              m,
		clients:              make(map[client]bool),
	}
	s.setupCallbacks()
	return s
}

// Handler HTTP маршруты: /ws, /api/sessions/, /api/engine, /metrics
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/sessions/", s.handleSessionsAPI)
	mux.HandleFunc("/api/engine", s.handleEngineAPI)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics.Handler())
	}
	return mux
}

// Start запускает gRPC в фоне и блокируется на HTTP
func (s *Server) Start() error {
	go s.startGRPCServer()

	s.httpServer = &http.Server{Addr: ":" + s.Config.Port, Handler: s.Handler()}
	log.Printf("Backend listening on :%s", s.Config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown останавливает HTTP и gRPC серверы
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	grpcServer := s.grpcServer
	s.mu.Unlock()
	// Stream живёт пока клиент подключён, поэтому без GracefulStop
	if grpcServer != nil {
		grpcServer.Stop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupCallbacks() {
	// Model Progress
	s.ModelMgr.SetProgressCallback(func(modelID string, progress float64, status models.ModelStatus, err error) {
		errStr := ""
		if err != nil {
			errStr = err.Error()
		}
		if s.Metrics != nil && status != models.ModelStatusDownloading {
			s.Metrics.ModelDownloads.WithLabelValues(string(status)).Inc()
		}
		s.broadcast(Message{
			Type:     "model_progress",
			ModelID:  modelID,
			Progress: progress,
			Data:     string(status),
			Error:    errStr,
		})
	})

	s.SessionMgr.SetOnSessionUpdated(func(sess session.Session) {
		s.broadcast(Message{Type: "session_updated", SessionID: sess.ID, Session: &sess})
	})

	s.TranscriptionService.OnPartial = func(sessionID, delta, transcript string) {
		s.broadcast(Message{
			Type:      "partial",
			SessionID: sessionID,
			Delta:     delta,
			Text:      transcript,
		})
	}

	s.TranscriptionService.OnDone = func(sess session.Session, result *ai.Result, err error) {
		msg := Message{
			Type:      string(sess.Status),
			SessionID: sess.ID,
			Steps:     sess.Steps,
		}
		if result != nil {
			msg.Text = result.Text
			msg.Tokens = result.Tokens
		}
		if err != nil {
			msg.Type = "error"
			msg.Error = err.Error()
		}
		s.broadcast(msg)
	}
}

func (s *Server) addClient(c client) {
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
}

func (s *Server) removeClient(c client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Fast path check
	if len(s.clients) == 0 {
		return
	}

	for c := range s.clients {
		if err := c.Send(&msg); err != nil {
			log.Printf("Write error: %v", err)
			if ws, ok := c.(*wsClient); ok {
				ws.conn.Close()
			}
			delete(s.clients, c)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade:", err)
		return
	}

	c := &wsClient{conn: conn}
	s.addClient(c)
	defer func() {
		s.removeClient(c)
		conn.Close()
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Println("Read:", err)
			}
			break
		}
		s.processMessage(c, msg)
	}
}

func reply(c client, msg Message) {
	if err := c.Send(&msg); err != nil {
		log.Printf("Write error: %v", err)
	}
}

func replyError(c client, err error) {
	reply(c, Message{Type: "error", Error: err.Error()})
}

func (s *Server) processMessage(c client, msg Message) {
	switch msg.Type {
	case "transcribe":
		s.handleTranscribe(c, msg)

	case "cancel":
		if !s.TranscriptionService.Cancel() {
			reply(c, Message{Type: "error", Error: "nothing to cancel"})
			return
		}
		reply(c, Message{Type: "cancelled"})

	case "get_models":
		reply(c, Message{Type: "models_list", Models: s.ModelMgr.GetAllModelsState()})

	case "download_model":
		if msg.ModelID == "" {
			reply(c, Message{Type: "error", Error: "modelId is required"})
			return
		}
		if err := s.ModelMgr.DownloadModel(msg.ModelID); err != nil {
			replyError(c, err)
			return
		}
		reply(c, Message{Type: "download_started", ModelID: msg.ModelID})

	case "cancel_download":
		if msg.ModelID == "" {
			reply(c, Message{Type: "error", Error: "modelId is required"})
			return
		}
		if err := s.ModelMgr.CancelDownload(msg.ModelID); err != nil {
			replyError(c, err)
			return
		}
		reply(c, Message{Type: "download_cancelled", ModelID: msg.ModelID})

	case "delete_model":
		if msg.ModelID == "" {
			reply(c, Message{Type: "error", Error: "modelId is required"})
			return
		}
		if msg.ModelID == s.EngineMgr.GetActiveModelID() {
			reply(c, Message{Type: "error", Error: "cannot delete active model"})
			return
		}
		if err := s.ModelMgr.DeleteModel(msg.ModelID); err != nil {
			replyError(c, err)
			return
		}
		reply(c, Message{Type: "model_deleted", ModelID: msg.ModelID})
		reply(c, Message{Type: "models_list", Models: s.ModelMgr.GetAllModelsState()})

	case "set_active_model":
		if msg.ModelID == "" {
			reply(c, Message{Type: "error", Error: "modelId is required"})
			return
		}
		if !s.ModelMgr.IsModelDownloaded(msg.ModelID) {
			reply(c, Message{Type: "error", Error: "model not downloaded"})
			return
		}
		// Смена движка закрывает модели текущего запроса
		if s.TranscriptionService.IsBusy() {
			replyError(c, service.ErrBusy)
			return
		}
		if err := s.EngineMgr.SetActiveModel(msg.ModelID); err != nil {
			replyError(c, err)
			return
		}
		reply(c, Message{Type: "active_model_changed", ModelID: msg.ModelID})
		reply(c, Message{Type: "models_list", Models: s.ModelMgr.GetAllModelsState()})

	case "set_language":
		if err := s.EngineMgr.SetLanguage(msg.Language); err != nil {
			replyError(c, err)
			return
		}
		reply(c, Message{Type: "language_changed", Language: msg.Language})

	case "get_engine":
		info := s.EngineMgr.GetEngineInfo()
		reply(c, Message{Type: "engine_info", Engine: &info})

	case "get_sessions":
		sessions := s.SessionMgr.ListSessions()
		infos := make([]*SessionInfo, len(sessions))
		for i, sess := range sessions {
			infos[i] = newSessionInfo(sess)
		}
		reply(c, Message{Type: "sessions_list", Sessions: infos})

	case "get_session":
		sess, err := s.SessionMgr.GetSession(msg.SessionID)
		if err != nil {
			replyError(c, err)
			return
		}
		reply(c, Message{Type: "session_details", Session: &sess})

	case "delete_session":
		if err := s.SessionMgr.DeleteSession(msg.SessionID); err != nil {
			replyError(c, err)
			return
		}
		reply(c, Message{Type: "session_deleted", SessionID: msg.SessionID})

	default:
		reply(c, Message{Type: "error", Error: fmt.Sprintf("unknown message type: %q", msg.Type)})
	}
}

func (s *Server) handleTranscribe(c client, msg Message) {
	if msg.Capacity < 0 || msg.Capacity > ai.MaxCapacity {
		replyError(c, fmt.Errorf("%w: capacity %d, max %d", ai.ErrSequenceCapacityExceeded, msg.Capacity, ai.MaxCapacity))
		return
	}

	var clip ai.Clip
	source := "ws"

	switch {
	case msg.Audio != "":
		samples, err := decodePCM(msg.Audio)
		if err != nil {
			replyError(c, err)
			return
		}
		rate := msg.SampleRate
		if rate == 0 {
			rate = ai.SampleRate
		}
		clip = ai.Clip{Samples: samples, SampleRate: rate}
	case msg.Path != "":
		path, err := resolveAudioPath(s.Config.AudioDir, msg.Path)
		if err != nil {
			replyError(c, err)
			return
		}
		loaded, err := session.LoadClip(path)
		if err != nil {
			replyError(c, err)
			return
		}
		clip = loaded
		source = filepath.Base(msg.Path)
	default:
		reply(c, Message{Type: "error", Error: "audio or path is required"})
		return
	}

	opts := s.Config.Options()
	if msg.Language != "" {
		opts.Language = strings.ToLower(msg.Language)
	}
	if msg.Task != "" {
		opts.Task = ai.Task(msg.Task)
	}
	if msg.Timestamps {
		opts.Timestamps = true
	}
	if msg.Capacity > 0 {
		opts.Capacity = msg.Capacity
	}

	sess, err := s.TranscriptionService.Submit(context.Background(), clip, service.SubmitOptions{
		Options: opts,
		Source:  source,
		Replace: msg.Replace,
	})
	if err != nil {
		replyError(c, err)
		return
	}
	reply(c, Message{Type: "transcription_started", SessionID: sess.ID, Session: &sess})
}

// decodePCM декодирует base64 PCM float32 little-endian
func decodePCM(encoded string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid audio encoding: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("audio length %d is not a multiple of 4 bytes", len(raw))
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}

func (s *Server) handleSessionsAPI(w http.ResponseWriter, r *http.Request) {
	// CORS headers for dev mode
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")

	if path == "" {
		sessions := s.SessionMgr.ListSessions()
		infos := make([]*SessionInfo, len(sessions))
		for i, sess := range sessions {
			infos[i] = newSessionInfo(sess)
		}
		writeJSON(w, infos)
		return
	}

	sessionID, file, _ := strings.Cut(path, "/")
	sess, err := s.SessionMgr.GetSession(sessionID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	switch file {
	case "":
		writeJSON(w, sess)
	case "audio.mp3":
		audioPath, err := s.SessionMgr.GetSessionAudioPath(sessionID)
		if err != nil || !sess.HasAudio {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		http.ServeFile(w, r, audioPath)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleEngineAPI(w http.ResponseWriter, r *http.Request) {
	info := s.EngineMgr.GetEngineInfo()
	writeJSON(w, struct {
		ai.EngineInfo
		Busy            bool   `json:"busy"`
		ActiveSessionID string `json:"activeSessionId,omitempty"`
	}{info, s.TranscriptionService.IsBusy(), s.TranscriptionService.ActiveSessionID()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
