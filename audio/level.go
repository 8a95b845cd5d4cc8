package audio

import "math"

// Quality метрики записанного клипа
type Quality struct {
	RMS      float32 // Средняя громкость
	Peak     float32 // Пиковая амплитуда
	DCOffset float32 // Смещение по постоянному току
	Clipped  int     // Сэмплы на пределе |x| >= 1
	IsSilent bool    // Практически тишина
}

// AnalyzeQuality считает громкость и перегрузку клипа
func AnalyzeQuality(samples []float32) Quality {
	q := Quality{}
	if len(samples) == 0 {
		q.IsSilent = true
		return q
	}

	var sum, sumSq float64
	for _, s := range samples {
		sum += float64(s)
		sumSq += float64(s) * float64(s)
		a := s
		if a < 0 {
			a = -a
		}
		if a > q.Peak {
			q.Peak = a
		}
		if a >= 1 {
			q.Clipped++
		}
	}

	n := float64(len(samples))
	q.DCOffset = float32(sum / n)
	q.RMS = float32(math.Sqrt(sumSq / n))
	q.IsSilent = q.RMS < 0.005 && q.Peak < 0.05
	return q
}
