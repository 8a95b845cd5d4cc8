package ai

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Параметры фронтенда Whisper
const (
	whisperNMels     = 80
	whisperNFFT      = 400 // 25ms
	whisperHopLength = 160 // 10ms
	whisperFrames    = MaxSamples / whisperHopLength
)

// MelConfig конфигурация для вычисления Mel-спектрограммы
type MelConfig struct {
	SampleRate int
	NMels      int
	HopLength  int
	NFFT       int
}

// WhisperMelConfig конфигурация log-mel фронтенда Whisper
func WhisperMelConfig() MelConfig {
	return MelConfig{
		SampleRate: SampleRate,
		NMels:      whisperNMels,
		HopLength:  whisperHopLength,
		NFFT:       whisperNFFT,
	}
}

// MelProcessor нативная log-mel спектрограмма (замена внешней модели
// спектрограммы). Реализует SpectrogramModel.
type MelProcessor struct {
	config     MelConfig
	melFilters [][]float64
	window     []float64
	fft        *fourier.FFT
}

var _ SpectrogramModel = (*MelProcessor)(nil)

// NewMelProcessor создаёт новый процессор
func NewMelProcessor(config MelConfig) *MelProcessor {
	return &MelProcessor{
		config:     config,
		melFilters: createMelFilterbank(config.NFFT, config.NMels, config.SampleRate),
		window:     createHannWindow(config.NFFT),
		fft:        fourier.NewFFT(config.NFFT),
	}
}

// Spectrogram принимает (1, numSamples) и возвращает (1, nMels, frames)
func (p *MelProcessor) Spectrogram(ctx context.Context, samples *Tensor) (*Tensor, error) {
	if err := samples.Validate(); err != nil {
		return nil, err
	}
	if len(samples.Shape) != 2 || samples.Shape[0] != 1 {
		return nil, fmt.Errorf("mel: expected (1, numSamples) input, got %v", samples.Shape)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	melSpec, numFrames := p.Compute(samples.Data)
	nMels := p.config.NMels

	// [frames][mels] -> [mels][frames], log10 и нормализация как в Whisper
	out := make([]float32, nMels*numFrames)
	maxVal := math.Inf(-1)
	logSpec := make([]float64, nMels*numFrames)
	for m := 0; m < nMels; m++ {
		for f := 0; f < numFrames; f++ {
			v := math.Log10(math.Max(melSpec[f][m], 1e-10))
			logSpec[m*numFrames+f] = v
			if v > maxVal {
				maxVal = v
			}
		}
	}
	floor := maxVal - 8.0
	for i, v := range logSpec {
		if v < floor {
			v = floor
		}
		out[i] = float32((v + 4.0) / 4.0)
	}

	return &Tensor{Shape: []int64{1, int64(nMels), int64(numFrames)}, Data: out}, nil
}

// Compute вычисляет mel спектр мощности [numFrames][nMels].
// Фреймы центрированы (reflect padding), последний фрейм STFT отбрасывается.
func (p *MelProcessor) Compute(samples []float32) ([][]float64, int) {
	nFFT := p.config.NFFT
	hop := p.config.HopLength
	half := nFFT / 2

	numFrames := len(samples) / hop
	if numFrames == 0 {
		numFrames = 1
	}

	melSpec := make([][]float64, numFrames)
	frameData := make([]float64, nFFT)
	var coeffs []complex128
	powerSpec := make([]float64, half+1)

	for frame := 0; frame < numFrames; frame++ {
		start := frame*hop - half
		for i := 0; i < nFFT; i++ {
			frameData[i] = float64(reflectSample(samples, start+i)) * p.window[i]
		}

		coeffs = p.fft.Coefficients(coeffs, frameData)
		for i := 0; i <= half; i++ {
			re := real(coeffs[i])
			im := imag(coeffs[i])
			powerSpec[i] = re*re + im*im
		}

		row := make([]float64, p.config.NMels)
		for m, filter := range p.melFilters {
			sum := 0.0
			for k, w := range filter {
				if w != 0 {
					sum += powerSpec[k] * w
				}
			}
			row[m] = sum
		}
		melSpec[frame] = row
	}

	return melSpec, numFrames
}

// reflectSample индексирует сигнал с отражением на границах (numpy reflect)
func reflectSample(samples []float32, idx int) float32 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return samples[0]
	}
	period := 2 * (n - 1)
	idx %= period
	if idx < 0 {
		idx += period
	}
	if idx >= n {
		idx = period - idx
	}
	return samples[idx]
}

// hzToMel шкала Slaney (librosa htk=False)
func hzToMel(hz float64) float64 {
	const fSp = 200.0 / 3
	const minLogHz = 1000.0
	minLogMel := minLogHz / fSp
	logStep := math.Log(6.4) / 27.0
	if hz >= minLogHz {
		return minLogMel + math.Log(hz/minLogHz)/logStep
	}
	return hz / fSp
}

func melToHz(mel float64) float64 {
	const fSp = 200.0 / 3
	const minLogHz = 1000.0
	minLogMel := minLogHz / fSp
	logStep := math.Log(6.4) / 27.0
	if mel >= minLogMel {
		return minLogHz * math.Exp(logStep*(mel-minLogMel))
	}
	return fSp * mel
}

// createMelFilterbank создаёт mel-фильтры как librosa.filters.mel
// (шкала Slaney, нормализация slaney)
func createMelFilterbank(nFFT, nMels, sampleRate int) [][]float64 {
	numBins := nFFT/2 + 1
	fMax := float64(sampleRate) / 2.0

	fftFreqs := make([]float64, numBins)
	for i := 0; i < numBins; i++ {
		fftFreqs[i] = float64(i) * fMax / float64(numBins-1)
	}

	mMin := hzToMel(0)
	mMax := hzToMel(fMax)
	fPts := make([]float64, nMels+2)
	for i := range fPts {
		fPts[i] = melToHz(mMin + float64(i)*(mMax-mMin)/float64(nMels+1))
	}

	filters := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		filters[m] = make([]float64, numBins)
		lowerDiff := fPts[m+1] - fPts[m]
		upperDiff := fPts[m+2] - fPts[m+1]
		enorm := 2.0 / (fPts[m+2] - fPts[m])

		for k, freq := range fftFreqs {
			lower := (freq - fPts[m]) / lowerDiff
			upper := (fPts[m+2] - freq) / upperDiff
			val := math.Min(lower, upper)
			if val < 0 {
				val = 0
			}
			filters[m][k] = val * enorm
		}
	}

	return filters
}

// createHannWindow периодическое окно Ханна (torch.hann_window)
func createHannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := 0; i < size; i++ {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size)))
	}
	return window
}
