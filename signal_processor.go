package main

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// freqRange is an inclusive [Low, High] Hz band.
type freqRange struct {
	Low, High uint64
}

// BandPattern is one entry in the built-in classification table, mirroring
// the teacher's mode-table lookup in decoder_types.go.
type BandPattern struct {
	Name       string
	Ranges     []freqRange
	WidthHz    uint64 // 0 = not checked
	Modulation string // "" = not checked
}

// bandTable is checked in order; first-match order breaks confidence ties.
var bandTable = []BandPattern{
	{Name: "FM Broadcast", Ranges: []freqRange{{88_000_000, 108_000_000}}, WidthHz: 200_000, Modulation: "FM"},
	{Name: "Aviation", Ranges: []freqRange{{108_000_000, 137_000_000}}, WidthHz: 25_000, Modulation: "AM"},
	{Name: "Amateur 2m/70cm", Ranges: []freqRange{{144_000_000, 148_000_000}, {420_000_000, 450_000_000}}, WidthHz: 25_000},
	{Name: "Public Safety", Ranges: []freqRange{{150_000_000, 174_000_000}, {450_000_000, 470_000_000}}, WidthHz: 25_000},
	{Name: "Marine VHF", Ranges: []freqRange{{156_000_000, 162_000_000}}, WidthHz: 25_000},
	{Name: "GSM 900 uplink", Ranges: []freqRange{{880_000_000, 915_000_000}}, WidthHz: 200_000, Modulation: "GMSK"},
	{Name: "GSM 900 downlink", Ranges: []freqRange{{925_000_000, 960_000_000}}, WidthHz: 200_000, Modulation: "GMSK"},
	{Name: "GSM 1800 uplink", Ranges: []freqRange{{1_710_000_000, 1_785_000_000}}, WidthHz: 200_000, Modulation: "GMSK"},
	{Name: "GSM 1800 downlink", Ranges: []freqRange{{1_805_000_000, 1_880_000_000}}, WidthHz: 200_000, Modulation: "GMSK"},
	{Name: "Wi-Fi 2.4GHz", Ranges: []freqRange{{2_400_000_000, 2_483_500_000}}, WidthHz: 20_000_000},
	{Name: "Wi-Fi 5GHz", Ranges: []freqRange{{5_150_000_000, 5_850_000_000}}, WidthHz: 20_000_000},
}

// SignalProcessor elevates Peaks to classified SignalDetections and
// maintains a frequency-keyed rolling database and active-signal set.
type SignalProcessor struct {
	cfg ProcessorConfig

	mu           sync.Mutex
	database     map[uint64]*SignalRecord
	activeByFreq map[uint64]*activeEntry
	nowFunc      func() time.Time
}

type activeEntry struct {
	detection SignalDetection
	firstSeen time.Time
	lastSeen  time.Time
}

// NewSignalProcessor builds a processor using the given config.
func NewSignalProcessor(cfg ProcessorConfig) *SignalProcessor {
	return &SignalProcessor{
		cfg:          cfg,
		database:     make(map[uint64]*SignalRecord),
		activeByFreq: make(map[uint64]*activeEntry),
		nowFunc:      time.Now,
	}
}

// Process gates a Peak on minSNR, classifies it, coalesces it into the
// active set, and updates the rolling database. Returns (detection, true)
// when the peak is promoted, (zero, false) when gated out.
func (sp *SignalProcessor) Process(p Peak, noiseFloor float64) (SignalDetection, bool) {
	snr := p.Power - noiseFloor
	if snr < sp.cfg.MinSNRDB {
		return SignalDetection{}, false
	}

	class, confidence := classifySignal(p.Frequency, p.Bandwidth, "")

	det := SignalDetection{
		ID:             uuid.NewString(),
		Frequency:      p.Frequency,
		Power:          p.Power,
		Bandwidth:      p.Bandwidth,
		NoiseFloor:     noiseFloor,
		SNR:            snr,
		Classification: class,
		Confidence:     confidence,
		Timestamp:      p.Timestamp,
		Source:         "internal",
	}

	sp.mu.Lock()
	sp.coalesce(det)
	sp.updateDatabase(det)
	sp.mu.Unlock()

	return det, true
}

// IngestExternal merges an already-classified detection (source=external,
// bypassing the internal noise-floor/SNR gate) into the same active-set
// and rolling database that Process maintains for internally-detected
// signals, so C10 output is indistinguishable from C2/C3 output downstream.
func (sp *SignalProcessor) IngestExternal(det SignalDetection) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.coalesce(det)
	sp.updateDatabase(det)
}

// classifySignal scores every band-table entry by matches/checks and
// returns the best-scoring band name and confidence, falling back to a
// generic frequency-range tag when the best score is below 0.7. The
// threshold is fixed here; ProcessorConfig.ConfidenceThreshold is not read.
func classifySignal(freq, bandwidth uint64, modulation string) (string, float64) {
	bestName := ""
	bestConf := -1.0

	for _, b := range bandTable {
		checks, matches := 0, 0

		checks++
		if inAnyRange(freq, b.Ranges) {
			matches++
		}

		if b.WidthHz > 0 {
			checks++
			if withinPercent(bandwidth, b.WidthHz, 0.20) {
				matches++
			}
		}

		if b.Modulation != "" && modulation != "" {
			checks++
			if b.Modulation == modulation {
				matches++
			}
		}

		conf := float64(matches) / float64(checks)
		if conf > bestConf {
			bestConf = conf
			bestName = b.Name
		}
	}

	if bestConf >= 0.7 {
		return bestName, bestConf
	}

	return genericBandTag(freq), 0.5
}

func inAnyRange(freq uint64, ranges []freqRange) bool {
	for _, r := range ranges {
		if freq >= r.Low && freq <= r.High {
			return true
		}
	}
	return false
}

func withinPercent(v, target uint64, tolerance float64) bool {
	if target == 0 {
		return false
	}
	lo := float64(target) * (1 - tolerance)
	hi := float64(target) * (1 + tolerance)
	return float64(v) >= lo && float64(v) <= hi
}

func genericBandTag(freq uint64) string {
	switch {
	case freq < 30_000_000:
		return "HF"
	case freq < 300_000_000:
		return "VHF"
	case freq < 3_000_000_000:
		return "UHF"
	case freq < 30_000_000_000:
		return "SHF"
	default:
		return "EHF"
	}
}

// coalesce merges det into the active set by rounded-frequency key within
// frequencyTolerance, with newer values winning, and purges stale entries.
func (sp *SignalProcessor) coalesce(det SignalDetection) {
	now := sp.nowFunc()
	key := sp.findCoalesceKey(det.Frequency)

	if existing, ok := sp.activeByFreq[key]; ok {
		existing.detection = det
		existing.lastSeen = now
	} else {
		sp.activeByFreq[det.Frequency] = &activeEntry{
			detection: det,
			firstSeen: now,
			lastSeen:  now,
		}
	}

	timeout := time.Duration(sp.cfg.SignalTimeoutSec) * time.Second
	for k, e := range sp.activeByFreq {
		if now.Sub(e.lastSeen) > timeout {
			delete(sp.activeByFreq, k)
		}
	}
}

func (sp *SignalProcessor) findCoalesceKey(freq uint64) uint64 {
	for k := range sp.activeByFreq {
		var diff uint64
		if k > freq {
			diff = k - freq
		} else {
			diff = freq - k
		}
		if diff < sp.cfg.FrequencyToleranceHz {
			return k
		}
	}
	return freq
}

// updateDatabase maintains the per-frequency rolling record, applying the
// running-average/max-update/occurrence-increment rules and the
// deterministic eviction policy when the database exceeds maxDatabaseSize.
func (sp *SignalProcessor) updateDatabase(det SignalDetection) {
	key := sp.findDatabaseKey(det.Frequency)
	rec, ok := sp.database[key]
	if !ok {
		sp.database[det.Frequency] = &SignalRecord{
			Frequency:      det.Frequency,
			LastSeen:       det.Timestamp,
			AvgPower:       det.Power,
			MaxPower:       det.Power,
			Occurrences:    1,
			Classification: det.Classification,
			Confidence:     det.Confidence,
		}
	} else {
		rec.Occurrences++
		rec.AvgPower = rec.AvgPower + (det.Power-rec.AvgPower)/float64(rec.Occurrences)
		if det.Power > rec.MaxPower {
			rec.MaxPower = det.Power
		}
		if det.Confidence > rec.Confidence {
			rec.Classification = det.Classification
			rec.Confidence = det.Confidence
		}
		rec.LastSeen = det.Timestamp
	}

	if len(sp.database) > sp.cfg.MaxDatabaseSize {
		sp.evictOldest()
	}
}

func (sp *SignalProcessor) findDatabaseKey(freq uint64) uint64 {
	for k := range sp.database {
		var diff uint64
		if k > freq {
			diff = k - freq
		} else {
			diff = freq - k
		}
		if diff < sp.cfg.FrequencyToleranceHz {
			return k
		}
	}
	return freq
}

// evictOldest sorts entries by lastSeen descending and retains the prefix
// of the top half, per the spec's deterministic eviction rule.
func (sp *SignalProcessor) evictOldest() {
	keys := make([]uint64, 0, len(sp.database))
	for k := range sp.database {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return sp.database[keys[i]].LastSeen.After(sp.database[keys[j]].LastSeen)
	})

	keep := sp.cfg.MaxDatabaseSize / 2
	if keep > len(keys) {
		keep = len(keys)
	}
	retained := make(map[uint64]*SignalRecord, keep)
	for _, k := range keys[:keep] {
		retained[k] = sp.database[k]
	}
	sp.database = retained
}

// DatabaseSize returns the current number of per-frequency records.
func (sp *SignalProcessor) DatabaseSize() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.database)
}
