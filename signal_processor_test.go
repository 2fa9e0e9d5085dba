package main

import (
	"testing"
	"time"
)

func testProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MinSNRDB:             6,
		ConfidenceThreshold:  0.7,
		FrequencyToleranceHz: 10_000,
		SignalTimeoutSec:     30,
		MaxDatabaseSize:      1000,
	}
}

func TestSignalProcessor_GatesOnMinSNR(t *testing.T) {
	sp := NewSignalProcessor(testProcessorConfig())
	_, ok := sp.Process(Peak{Frequency: 100_000_000, Power: -80, Timestamp: time.Now()}, -76)
	if ok {
		t.Fatalf("expected peak with SNR below minSNR to be gated out")
	}
}

func TestSignalProcessor_PromotesAboveSNR(t *testing.T) {
	sp := NewSignalProcessor(testProcessorConfig())
	det, ok := sp.Process(Peak{Frequency: 100_000_000, Power: -60, Bandwidth: 25_000, Timestamp: time.Now()}, -80)
	if !ok {
		t.Fatalf("expected peak to be promoted")
	}
	if det.SNR < testProcessorConfig().MinSNRDB {
		t.Fatalf("detection SNR %v below minSNR invariant", det.SNR)
	}
	if det.Confidence <= 0 {
		t.Fatalf("detection confidence must be > 0, got %v", det.Confidence)
	}
}

func TestClassifySignal_FMBroadcast(t *testing.T) {
	name, conf := classifySignal(100_000_000, 200_000, "FM")
	if name != "FM Broadcast" {
		t.Fatalf("expected FM Broadcast classification, got %s (conf %v)", name, conf)
	}
	if conf < 0.7 {
		t.Fatalf("expected high confidence for full match, got %v", conf)
	}
}

func TestClassifySignal_GenericFallback(t *testing.T) {
	name, conf := classifySignal(45_000_000, 999_000_000, "")
	if conf != 0.5 {
		t.Fatalf("expected generic fallback confidence 0.5, got %v", conf)
	}
	if name != "VHF" {
		t.Fatalf("expected VHF generic tag for 45 MHz, got %s", name)
	}
}

func TestSignalProcessor_DatabaseCap(t *testing.T) {
	cfg := testProcessorConfig()
	cfg.MaxDatabaseSize = 10
	cfg.FrequencyToleranceHz = 1 // keep entries distinct
	sp := NewSignalProcessor(cfg)

	for i := 0; i < 20; i++ {
		freq := uint64(1_000_000 + i*1_000_000)
		sp.Process(Peak{Frequency: freq, Power: -50, Bandwidth: 25_000, Timestamp: time.Now()}, -80)
	}
	if sp.DatabaseSize() > cfg.MaxDatabaseSize {
		t.Fatalf("database size %d exceeds cap %d", sp.DatabaseSize(), cfg.MaxDatabaseSize)
	}
}

func TestSignalProcessor_CoalesceNewerWins(t *testing.T) {
	sp := NewSignalProcessor(testProcessorConfig())
	sp.Process(Peak{Frequency: 100_000_000, Power: -60, Bandwidth: 25_000, Timestamp: time.Now()}, -80)
	sp.Process(Peak{Frequency: 100_000_500, Power: -55, Bandwidth: 25_000, Timestamp: time.Now()}, -80)

	if len(sp.activeByFreq) != 1 {
		t.Fatalf("expected frequencies within tolerance to coalesce into 1 active entry, got %d", len(sp.activeByFreq))
	}
	for _, e := range sp.activeByFreq {
		if e.detection.Power != -55 {
			t.Fatalf("expected the newer detection (power -55) to win, got power %v", e.detection.Power)
		}
	}
}
