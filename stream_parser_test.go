package main

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testParserConfig() ParserConfig {
	return ParserConfig{
		MaxBufferSize:     1 << 20,
		MaxLineLength:     10_000,
		OverflowThreshold: 5,
	}
}

// S1 — Clean parse.
func TestStreamParser_CleanParse(t *testing.T) {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewStreamParser(testParserConfig())
	p.nowFunc = fixedClock(ts)

	line := "2025-01-01, 12:00:00.000, 2400000000, 2500000000, 100000, -80, -79, -40, -78\n"
	frames, invalids, _ := p.Feed([]byte(line))

	if len(invalids) != 0 {
		t.Fatalf("expected no invalid lines, got %v", invalids)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.StartFreq != 2_400_000_000 || f.StopFreq != 2_500_000_000 {
		t.Fatalf("unexpected freq range: %+v", f)
	}
	if f.MaxPower != -40 {
		t.Fatalf("expected maxPower -40, got %v", f.MaxPower)
	}
}

func TestStreamParser_RejectsBadRange(t *testing.T) {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewStreamParser(testParserConfig())
	p.nowFunc = fixedClock(ts)

	line := "2025-01-01, 12:00:00.000, 2400000000, 2300000000, 100000, -80, -79\n"
	frames, invalids, _ := p.Feed([]byte(line))
	if len(frames) != 0 || len(invalids) != 1 {
		t.Fatalf("expected startFreq>=stopFreq to be rejected, got frames=%d invalids=%d", len(frames), len(invalids))
	}
}

func TestStreamParser_RejectsOutOfRangePower(t *testing.T) {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewStreamParser(testParserConfig())
	p.nowFunc = fixedClock(ts)

	line := "2025-01-01, 12:00:00.000, 2400000000, 2500000000, 100000, -200, -79\n"
	frames, invalids, _ := p.Feed([]byte(line))
	if len(frames) != 0 || len(invalids) != 1 {
		t.Fatalf("expected out-of-range power rejected, got frames=%d invalids=%d", len(frames), len(invalids))
	}
}

func TestStreamParser_StuckDeviceDetection(t *testing.T) {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewStreamParser(testParserConfig())
	p.nowFunc = fixedClock(ts)

	samples := "-80"
	for i := 0; i < 15; i++ {
		samples += ", -80"
	}
	line := "2025-01-01, 12:00:00.000, 2400000000, 2500000000, 100000, " + samples + "\n"
	frames, invalids, _ := p.Feed([]byte(line))
	if len(frames) != 0 || len(invalids) != 1 {
		t.Fatalf("expected all-identical powers (>10 samples) rejected as stuck device, got frames=%d invalids=%d", len(frames), len(invalids))
	}
}

func TestStreamParser_NonDataLineRouting(t *testing.T) {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewStreamParser(testParserConfig())
	p.nowFunc = fixedClock(ts)

	frames, invalids, nonData := p.Feed([]byte("Resource busy, retrying\n"))
	if len(frames) != 0 || len(invalids) != 0 || len(nonData) != 1 {
		t.Fatalf("expected banner line routed as non-data, got frames=%d invalids=%d nonData=%d", len(frames), len(invalids), len(nonData))
	}
}

// Overflow: feeding 2*maxBufferSize bytes without newlines increments the
// overflow counter exactly once and retains the latest 0.5*maxBufferSize.
func TestStreamParser_BufferOverflow(t *testing.T) {
	cfg := testParserConfig()
	cfg.MaxBufferSize = 100
	p := NewStreamParser(cfg)
	p.nowFunc = fixedClock(time.Now())

	payload := make([]byte, 2*cfg.MaxBufferSize)
	for i := range payload {
		payload[i] = 'x'
	}
	p.Feed(payload)

	if got := p.OverflowCount(); got != 1 {
		t.Fatalf("expected overflow count 1, got %d", got)
	}
	if got := p.buf.Len(); got != cfg.MaxBufferSize/2 {
		t.Fatalf("expected retained buffer of %d bytes, got %d", cfg.MaxBufferSize/2, got)
	}
}

func TestStreamParser_PartialLineRetained(t *testing.T) {
	p := NewStreamParser(testParserConfig())
	p.nowFunc = fixedClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	frames, _, _ := p.Feed([]byte("2025-01-01, 12:00:00.000, 2400000000"))
	if len(frames) != 0 {
		t.Fatalf("expected no frames from partial line, got %d", len(frames))
	}
	frames, _, _ = p.Feed([]byte(", 2500000000, 100000, -80, -79\n"))
	if len(frames) != 1 {
		t.Fatalf("expected the completed line to parse as 1 frame, got %d", len(frames))
	}
}
