package main

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// AnalyzerOutput is the per-frame result of the Sweep Analyzer.
type AnalyzerOutput struct {
	Peaks          []Peak
	NoiseFloor     float64
	AvgPower       float64
	MaxPower       float64
	MinPower       float64
	SignalCount    int
	FrequencyStart uint64
	FrequencyStop  uint64
	LastAnalysis   time.Time
}

// SweepAnalyzer extracts peaks, noise floor, and aggregate stats from each
// SpectrumFrame and keeps a bounded waterfall history.
type SweepAnalyzer struct {
	cfg AnalyzerConfig

	waterfall [][]float64
	nowFunc   func() time.Time
}

// NewSweepAnalyzer builds an analyzer using the given config.
func NewSweepAnalyzer(cfg AnalyzerConfig) *SweepAnalyzer {
	return &SweepAnalyzer{cfg: cfg, nowFunc: time.Now}
}

// Analyze computes noise floor, peaks, and aggregate stats for one frame,
// and appends its power vector to the waterfall ring buffer.
func (a *SweepAnalyzer) Analyze(f SpectrumFrame) AnalyzerOutput {
	powers := f.Powers
	if a.cfg.SmoothingEnabled {
		powers = smooth(powers, a.cfg.SmoothingFactor)
	}

	noiseFloor := percentile(powers, a.cfg.NoiseFloorPercentile)
	peaks := a.detectPeaks(f, powers, noiseFloor)

	a.appendWaterfall(f.Powers)

	return AnalyzerOutput{
		Peaks:          peaks,
		NoiseFloor:     noiseFloor,
		AvgPower:       f.AvgPower,
		MaxPower:       f.MaxPower,
		MinPower:       f.MinPower,
		SignalCount:    len(peaks),
		FrequencyStart: f.StartFreq,
		FrequencyStop:  f.StopFreq,
		LastAnalysis:   a.nowFunc(),
	}
}

// detectPeaks scans the (possibly smoothed) power vector for contiguous
// above-threshold regions and emits a Peak per region wide enough to pass
// minBandwidth.
func (a *SweepAnalyzer) detectPeaks(f SpectrumFrame, powers []float64, noiseFloor float64) []Peak {
	threshold := noiseFloor + a.cfg.PeakThresholdDB
	binHz := f.BinSize
	if binHz == 0 && len(powers) > 1 {
		binHz = (f.StopFreq - f.StartFreq) / uint64(len(powers))
	}

	var peaks []Peak
	n := len(powers)
	i := 0
	for i < n {
		if powers[i] <= threshold {
			i++
			continue
		}
		start := i
		for i < n && powers[i] > threshold {
			i++
		}
		end := i // exclusive

		bandwidth := uint64(end-start) * binHz
		if bandwidth < a.cfg.MinBandwidthHz {
			continue
		}

		argmax := start
		for j := start; j < end; j++ {
			if powers[j] > powers[argmax] {
				argmax = j
			}
		}

		peaks = append(peaks, Peak{
			Frequency: f.StartFreq + uint64(argmax)*binHz,
			Power:     powers[argmax],
			Bandwidth: bandwidth,
			Timestamp: f.Timestamp,
		})
	}
	return peaks
}

func (a *SweepAnalyzer) appendWaterfall(powers []float64) {
	cap := a.cfg.MaxHistorySize
	if cap <= 0 {
		cap = 100
	}
	cpy := append([]float64(nil), powers...)
	a.waterfall = append(a.waterfall, cpy)
	if len(a.waterfall) > cap {
		a.waterfall = a.waterfall[len(a.waterfall)-cap:]
	}
}

// WaterfallDepth reports how many frames are currently retained.
func (a *SweepAnalyzer) WaterfallDepth() int {
	return len(a.waterfall)
}

// percentile returns the value at the given percentile (0-100) of a sorted
// copy of xs, via gonum's quantile estimator.
func percentile(xs []float64, pct float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return stat.Quantile(pct/100.0, stat.Empirical, sorted, nil)
}

// smooth applies the spec's 1D smoothing kernel:
// y[i] = (1-f)*x[i] + (f/2)*(x[i-1]+x[i+1]) for interior samples.
func smooth(xs []float64, f float64) []float64 {
	n := len(xs)
	if n < 3 {
		return append([]float64(nil), xs...)
	}
	out := append([]float64(nil), xs...)
	for i := 1; i < n-1; i++ {
		out[i] = (1-f)*xs[i] + (f/2)*(xs[i-1]+xs[i+1])
	}
	return out
}
