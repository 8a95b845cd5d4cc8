// Package audio захват микрофона для транскрипции
package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// Параметры захвата: формат входа модели
const (
	SampleRate    = 16000
	MaxRecordTime = 30 * time.Second
)

// ErrAlreadyRecording запись уже идёт
var ErrAlreadyRecording = errors.New("already recording")

// AudioDevice представляет аудио устройство
type AudioDevice struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// Capture управляет захватом аудио с микрофона
type Capture struct {
	ctx *malgo.AllocatedContext

	micDeviceID *malgo.DeviceID

	mu      sync.Mutex
	running bool
}

// NewCapture инициализирует malgo контекст
func NewCapture() (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Printf("malgo: %s", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}
	return &Capture{ctx: ctx}, nil
}

// ListDevices возвращает список устройств захвата
func (c *Capture) ListDevices() ([]AudioDevice, error) {
	captureDevices, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	devices := make([]AudioDevice, 0, len(captureDevices))
	for _, dev := range captureDevices {
		devices = append(devices, AudioDevice{
			ID:        deviceIDToString(dev.ID),
			Name:      dev.Name(),
			IsDefault: dev.IsDefault != 0,
		})
	}
	return devices, nil
}

// FindDeviceByName ищет устройство захвата по имени (частичное совпадение)
func (c *Capture) FindDeviceByName(name string) (*malgo.DeviceID, error) {
	devices, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}

	nameLower := strings.ToLower(name)
	for _, dev := range devices {
		if strings.Contains(strings.ToLower(dev.Name()), nameLower) {
			id := dev.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

// SetMicrophoneDevice устанавливает устройство микрофона по ID.
// "" или "default" = системное устройство по умолчанию.
func (c *Capture) SetMicrophoneDevice(deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deviceID == "" || deviceID == "default" {
		c.micDeviceID = nil
		return nil
	}

	id, err := stringToDeviceID(deviceID)
	if err != nil {
		return err
	}
	c.micDeviceID = id
	return nil
}

// SetMicrophoneDeviceByName выбирает микрофон по имени
func (c *Capture) SetMicrophoneDeviceByName(name string) error {
	if name == "" {
		return c.SetMicrophoneDevice("")
	}
	id, err := c.FindDeviceByName(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.micDeviceID = id
	c.mu.Unlock()
	log.Printf("Microphone device set: %s", name)
	return nil
}

// Record записывает d секунд моно 16 kHz (не больше MaxRecordTime).
// Отмена ctx останавливает запись и возвращает уже накопленное.
func (c *Capture) Record(ctx context.Context, d time.Duration) ([]float32, error) {
	if d <= 0 {
		return nil, fmt.Errorf("invalid record duration: %v", d)
	}
	if d > MaxRecordTime {
		d = MaxRecordTime
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	c.running = true
	deviceID := c.micDeviceID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	limit := int(d.Seconds() * SampleRate)
	rec := newRecorder(limit)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = SampleRate
	deviceConfig.Alsa.NoMMap = 1
	if deviceID != nil {
		deviceConfig.Capture.DeviceID = deviceID.Pointer()
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, framecount uint32) {
			rec.write(pInputSamples, int(framecount))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init capture device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}
	log.Printf("Microphone capture started (%v)", d)

	select {
	case <-rec.done:
	case <-ctx.Done():
		log.Printf("Microphone capture cancelled: %v", ctx.Err())
	}
	device.Stop()

	samples := rec.samples()
	log.Printf("Microphone capture stopped: %d samples", len(samples))
	return samples, nil
}

// Close освобождает ресурсы
func (c *Capture) Close() {
	if c.ctx != nil {
		c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}

// recorder накапливает сэмплы из callback до лимита
type recorder struct {
	mu    sync.Mutex
	buf   []float32
	limit int
	done  chan struct{}
	once  sync.Once
}

func newRecorder(limit int) *recorder {
	return &recorder{
		buf:   make([]float32, 0, limit),
		limit: limit,
		done:  make(chan struct{}),
	}
}

// write принимает little-endian float32 из callback устройства
func (r *recorder) write(data []byte, frames int) {
	if len(data) < frames*4 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < frames && len(r.buf) < r.limit; i++ {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		r.buf = append(r.buf, math.Float32frombits(bits))
	}
	if len(r.buf) >= r.limit {
		r.once.Do(func() { close(r.done) })
	}
}

func (r *recorder) samples() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float32, len(r.buf))
	copy(out, r.buf)
	return out
}

// Вспомогательные функции для конвертации DeviceID
func deviceIDToString(id malgo.DeviceID) string {
	// Используем первые 32 байта ID как строку
	var result strings.Builder
	for _, b := range id[:32] {
		if b == 0 {
			break
		}
		result.WriteByte(b)
	}
	return result.String()
}

func stringToDeviceID(s string) (*malgo.DeviceID, error) {
	if len(s) > 32 {
		return nil, fmt.Errorf("device ID too long")
	}
	var id malgo.DeviceID
	copy(id[:], []byte(s))
	return &id, nil
}
