// Package performance computes rolling response-time statistics and
// classifies the current sample as a latency spike.
package performance

import (
	"math"
	"sort"

	"github.com/finopsmind/backend/internal/model"
)

const (
	// DefaultWindowSize bounds how many prior samples are considered.
	DefaultWindowSize = 20

	spikeThresholdPercent         = 50.0
	criticalSpikeThresholdPercent = 150.0
)

// Analyze computes a PerformanceSnapshot for currentMs against history,
// the most-recent response times excluding the current sample, newest
// first. Only the first DefaultWindowSize entries of history are used.
func Analyze(currentMs float64, history []float64) model.PerformanceSnapshot {
	if len(history) > DefaultWindowSize {
		history = history[:DefaultWindowSize]
	}

	snap := model.PerformanceSnapshot{
		CurrentMs:  currentMs,
		SampleSize: len(history),
	}

	if len(history) == 0 {
		return snap
	}

	mean := average(history)
	snap.RollingAvgMs = mean
	snap.RollingMedianMs = median(history)

	if len(history) < 2 {
		return snap
	}

	snap.RollingStddevMs = sampleStdDev(history, mean)

	if !snap.HasEnoughData() {
		return snap
	}

	if mean > 0 {
		snap.DeviationPercent = (currentMs - mean) / mean * 100
	}

	snap.IsSpike = snap.DeviationPercent >= spikeThresholdPercent
	snap.IsCriticalSpike = snap.DeviationPercent >= criticalSpikeThresholdPercent

	return snap
}

func average(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// sampleStdDev is the n-1 (sample) standard deviation.
func sampleStdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSquares float64
	for _, v := range values {
		d := v - mean
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}
