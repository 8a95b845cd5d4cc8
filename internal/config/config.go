// Package config загружает настройки сервиса: значения по умолчанию,
// YAML файл, .env и переменные окружения LIVEWHISPER_*, флаги.
// Каждый следующий слой перекрывает предыдущий.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"livewhisper/ai"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "LIVEWHISPER_"

// Config настройки сервиса
type Config struct {
	DataDir   string `yaml:"data_dir"`
	ModelsDir string `yaml:"models_dir"`
	Port      string `yaml:"port"`
	GRPCAddr  string `yaml:"grpc_addr"`

	// Транскрипция
	Model        string        `yaml:"model"`
	Language     string        `yaml:"language"`
	Task         string        `yaml:"task"`
	Timestamps   bool          `yaml:"timestamps"`
	Capacity     int           `yaml:"capacity"`
	TickInterval time.Duration `yaml:"tick_interval"`

	// Модели и рантайм
	ONNXLibPath string `yaml:"onnx_lib_path"`
	UseCoreML   bool   `yaml:"use_coreml"`
	HubURL      string `yaml:"hub_url"`

	// ArchiveAudio сохранять входной клип в сессию как MP3
	ArchiveAudio bool `yaml:"archive_audio"`

	// AudioDir каталог, из которого transcribe может читать файлы по path.
	// Пусто = чтение файлов по path запрещено.
	AudioDir string `yaml:"audio_dir"`

	// Args позиционные аргументы после флагов
	Args []string `yaml:"-"`
}

// Default возвращает настройки по умолчанию
func Default() *Config {
	return &Config{
		DataDir:      "data/sessions",
		Port:         "8080",
		Model:        "whisper-tiny",
		Language:     "en",
		Task:         string(ai.TaskTranscribe),
		Capacity:     ai.DefaultCapacity,
		TickInterval: 16 * time.Millisecond,
		HubURL:       "https://huggingface.co",
		ArchiveAudio: true,
	}
}

// Load разбирает флаги из os.Args и завершает процесс при ошибке
func Load() *Config {
	cfg, err := Parse(os.Args[1:], os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	return cfg
}

// Parse собирает конфигурацию из всех слоёв. lookup читает окружение.
func Parse(args []string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("livewhisper", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	envFile := fs.String("env", ".env", "Path to .env file")
	dataDir := fs.String("data", cfg.DataDir, "Directory for session data")
	modelsDir := fs.String("models", "", "Directory for downloaded models (default: dataDir/../models)")
	port := fs.String("port", cfg.Port, "Server port")
	grpcAddr := fs.String("grpc", "", "gRPC address (unix:/path, npipe:\\\\.\\pipe\\name or host:port)")
	model := fs.String("model", cfg.Model, "Model ID from the registry")
	language := fs.String("lang", cfg.Language, "Default language code")
	task := fs.String("task", cfg.Task, "transcribe or translate")
	timestamps := fs.Bool("timestamps", cfg.Timestamps, "Allow timestamp tokens")
	capacity := fs.Int("capacity", cfg.Capacity, "Output sequence capacity in tokens")
	tick := fs.Duration("tick", cfg.TickInterval, "Decoder step interval")
	onnxLib := fs.String("onnx-lib", "", "Path to onnxruntime shared library")
	coreml := fs.Bool("coreml", cfg.UseCoreML, "Use CoreML execution provider")
	hubURL := fs.String("hub", cfg.HubURL, "Model hub base URL")
	archive := fs.Bool("archive", cfg.ArchiveAudio, "Archive input audio as MP3")
	audioDir := fs.String("audio-dir", "", "Directory transcribe requests may read files from")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if path := *configPath; path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	} else if path, ok := lookup(EnvPrefix + "CONFIG"); ok && path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	env, err := readEnvFile(*envFile)
	if err != nil {
		return nil, err
	}
	// Окружение процесса важнее .env
	merged := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := env[key]
		return v, ok
	}
	if err := cfg.applyEnv(merged); err != nil {
		return nil, err
	}

	// Флаги перекрывают всё, но только заданные явно
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.DataDir = *dataDir
		case "models":
			cfg.ModelsDir = *modelsDir
		case "port":
			cfg.Port = *port
		case "grpc":
			cfg.GRPCAddr = *grpcAddr
		case "model":
			cfg.Model = *model
		case "lang":
			cfg.Language = *language
		case "task":
			cfg.Task = *task
		case "timestamps":
			cfg.Timestamps = *timestamps
		case "capacity":
			cfg.Capacity = *capacity
		case "tick":
			cfg.TickInterval = *tick
		case "onnx-lib":
			cfg.ONNXLibPath = *onnxLib
		case "coreml":
			cfg.UseCoreML = *coreml
		case "hub":
			cfg.HubURL = *hubURL
		case "archive":
			cfg.ArchiveAudio = *archive
		case "audio-dir":
			cfg.AudioDir = *audioDir
		}
	})

	cfg.Args = fs.Args()

	// Determine models directory
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = filepath.Join(filepath.Dir(cfg.DataDir), "models")
	}
	cfg.Language = strings.ToLower(strings.TrimSpace(cfg.Language))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// readEnvFile читает .env; отсутствие файла не ошибка
func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return env, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("DATA_DIR", &c.DataDir)
	str("MODELS_DIR", &c.ModelsDir)
	str("PORT", &c.Port)
	str("GRPC_ADDR", &c.GRPCAddr)
	str("MODEL", &c.Model)
	str("LANGUAGE", &c.Language)
	str("TASK", &c.Task)
	str("HUB_URL", &c.HubURL)
	str("ONNX_LIB_PATH", &c.ONNXLibPath)
	str("AUDIO_DIR", &c.AudioDir)

	for name, dst := range map[string]*bool{
		"TIMESTAMPS":    &c.Timestamps,
		"COREML":        &c.UseCoreML,
		"ARCHIVE_AUDIO": &c.ArchiveAudio,
	} {
		if err := boolean(name, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup(EnvPrefix + "CAPACITY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sCAPACITY: %w", EnvPrefix, err)
		}
		c.Capacity = n
	}
	if v, ok := lookup(EnvPrefix + "TICK_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTICK_INTERVAL: %w", EnvPrefix, err)
		}
		c.TickInterval = d
	}
	return nil
}

// Validate проверяет диапазоны значений
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir cannot be empty")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %q", c.Port)
	}
	if _, err := ai.LanguageToken(c.Language); err != nil {
		return fmt.Errorf("language: %w", err)
	}
	if _, err := ai.Task(c.Task).Token(); err != nil {
		return fmt.Errorf("task: %w", err)
	}
	if c.Capacity < 8 || c.Capacity > ai.MaxCapacity {
		return fmt.Errorf("capacity must be between 8 and %d, got %d", ai.MaxCapacity, c.Capacity)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", c.TickInterval)
	}
	if c.HubURL == "" {
		return errors.New("hub_url cannot be empty")
	}
	return nil
}

// Options параметры запроса по умолчанию
func (c *Config) Options() ai.Options {
	return ai.Options{
		Language:   c.Language,
		Task:       ai.Task(c.Task),
		Timestamps: c.Timestamps,
		Capacity:   c.Capacity,
	}
}
