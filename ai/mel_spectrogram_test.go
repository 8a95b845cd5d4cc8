package ai

import (
	"context"
	"math"
	"testing"
)

func TestMelFilterbank(t *testing.T) {
	filters := createMelFilterbank(whisperNFFT, whisperNMels, SampleRate)

	if len(filters) != whisperNMels {
		t.Errorf("Expected %d mel filters, got %d", whisperNMels, len(filters))
	}

	expectedBins := whisperNFFT/2 + 1 // 201
	for i, f := range filters {
		if len(f) != expectedBins {
			t.Errorf("Filter %d: expected %d bins, got %d", i, expectedBins, len(f))
		}
		sum := 0.0
		for _, v := range f {
			if v < 0 {
				t.Fatalf("Filter %d has negative weight", i)
			}
			sum += v
		}
		if sum == 0 {
			t.Errorf("Filter %d is empty", i)
		}
	}
}

func TestMelScale_RoundTrip(t *testing.T) {
	for _, hz := range []float64{0, 200, 999, 1000, 4000, 8000} {
		got := melToHz(hzToMel(hz))
		if math.Abs(got-hz) > 1e-6 {
			t.Errorf("melToHz(hzToMel(%f)) = %f", hz, got)
		}
	}
	// Линейная часть шкалы Slaney
	if m := hzToMel(200); math.Abs(m-3) > 1e-9 {
		t.Errorf("hzToMel(200) = %f, want 3", m)
	}
}

func TestHannWindow(t *testing.T) {
	window := createHannWindow(400)

	if len(window) != 400 {
		t.Errorf("Expected window size 400, got %d", len(window))
	}

	// Начало и конец должны быть близки к 0
	if window[0] > 0.01 {
		t.Errorf("Window start should be near 0, got %f", window[0])
	}
	if window[len(window)-1] > 0.01 {
		t.Errorf("Window end should be near 0, got %f", window[len(window)-1])
	}

	// Середина должна быть близка к 1
	mid := window[len(window)/2]
	if mid < 0.99 || mid > 1.01 {
		t.Errorf("Window middle should be near 1, got %f", mid)
	}
}

func TestReflectSample(t *testing.T) {
	s := []float32{0, 1, 2, 3}
	cases := map[int]float32{-2: 2, -1: 1, 0: 0, 3: 3, 4: 2, 5: 1}
	for idx, want := range cases {
		if got := reflectSample(s, idx); got != want {
			t.Errorf("reflectSample(%d) = %f, want %f", idx, got, want)
		}
	}
}

func TestMelProcessor_Silence(t *testing.T) {
	p := NewMelProcessor(WhisperMelConfig())
	input := &Tensor{Shape: []int64{1, MaxSamples}, Data: make([]float32, MaxSamples)}

	mel, err := p.Spectrogram(context.Background(), input)
	if err != nil {
		t.Fatalf("Spectrogram failed: %v", err)
	}
	want := []int64{1, whisperNMels, whisperFrames}
	for i := range want {
		if mel.Shape[i] != want[i] {
			t.Fatalf("Shape = %v, want %v", mel.Shape, want)
		}
	}
	// log10(1e-10) = -10, (-10 + 4) / 4 = -1.5
	for i, v := range mel.Data {
		if math.Abs(float64(v)+1.5) > 1e-6 {
			t.Fatalf("value %d = %f, want -1.5", i, v)
		}
	}
}

func TestMelProcessor_ToneLandsInRightBand(t *testing.T) {
	p := NewMelProcessor(WhisperMelConfig())
	samples := make([]float32, SampleRate)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*1000*float64(i)/SampleRate))
	}

	melSpec, frames := p.Compute(samples)
	if frames != SampleRate/whisperHopLength {
		t.Fatalf("Expected %d frames, got %d", SampleRate/whisperHopLength, frames)
	}

	row := melSpec[frames/2]
	best := 0
	for m := range row {
		if row[m] > row[best] {
			best = m
		}
	}

	// Центр фильтра best: fPts[best+1]
	mMax := hzToMel(SampleRate / 2)
	center := melToHz(float64(best+1) * mMax / float64(whisperNMels+1))
	if math.Abs(center-1000) > 100 {
		t.Errorf("1kHz tone peaked in band centred at %.0f Hz", center)
	}
}

func TestMelProcessor_RejectsBadShape(t *testing.T) {
	p := NewMelProcessor(WhisperMelConfig())
	if _, err := p.Spectrogram(context.Background(), &Tensor{Shape: []int64{2, 2}, Data: make([]float32, 4)}); err == nil {
		t.Error("Expected error for batch of 2")
	}
}
