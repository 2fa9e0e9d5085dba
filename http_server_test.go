package main

import (
	"strings"
	"testing"
	"time"
)

func TestExpandFrequencyRanges_SingleValue(t *testing.T) {
	freqs := expandFrequencyRanges([]freqRangeRequest{{Start: 2_400_000_000, Stop: 2_400_000_000}})
	if len(freqs) != 1 || freqs[0] != 2_400_000_000 {
		t.Fatalf("expected single value passthrough, got %v", freqs)
	}
}

func TestExpandFrequencyRanges_Stepped(t *testing.T) {
	freqs := expandFrequencyRanges([]freqRangeRequest{{Start: 100, Stop: 300, Step: 100}})
	want := []uint64{100, 200, 300}
	if len(freqs) != len(want) {
		t.Fatalf("expected %v, got %v", want, freqs)
	}
	for i, f := range want {
		if freqs[i] != f {
			t.Fatalf("expected %v, got %v", want, freqs)
		}
	}
}

func TestParseFrequencyList(t *testing.T) {
	freqs, err := parseFrequencyList("2400000000, 5000000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(freqs) != 2 || freqs[0] != 2_400_000_000 || freqs[1] != 5_000_000_000 {
		t.Fatalf("unexpected parse result: %v", freqs)
	}

	if _, err := parseFrequencyList(""); err == nil {
		t.Fatalf("expected error for empty frequency list")
	}
	if _, err := parseFrequencyList("not-a-number"); err == nil {
		t.Fatalf("expected error for malformed frequency")
	}
}

func TestExportCSV_ContainsHeaderAndRows(t *testing.T) {
	now := time.Now()
	snap := WindowSnapshot{
		Active: []TimedSignal{
			{Detection: SignalDetection{Frequency: 2_400_000_000, Classification: "Wi-Fi 2.4GHz", Confidence: 0.9, Power: -40}, FirstSeen: now, LastSeen: now},
		},
		Fading: []TimedSignal{
			{Detection: SignalDetection{Frequency: 5_000_000_000, Classification: "Wi-Fi 5GHz", Confidence: 0.8, Power: -55}, FirstSeen: now, LastSeen: now},
		},
	}

	out := exportCSV(snap)
	if !strings.Contains(out, "state,frequency_hz") {
		t.Fatalf("expected CSV header, got: %s", out)
	}
	if !strings.Contains(out, "active,2400000000") {
		t.Fatalf("expected active row, got: %s", out)
	}
	if !strings.Contains(out, "fading,5000000000") {
		t.Fatalf("expected fading row, got: %s", out)
	}
}
