package main

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

// nonDataPrefixes are substrings (checked case-insensitively) that mark a
// line as banner/status/error chatter rather than a spectrum CSV row. Lines
// matching any of these are forwarded as NonDataLines, never handed to the
// analyzer.
var nonDataPrefixes = []string{
	"hackrf_sweep version",
	"call hackrf_sample_rate_set",
	"call hackrf_",
	"resource busy",
	"device busy",
	"permission denied",
	"access denied",
	"no hackrf boards found",
	"hackrf_open() failed",
	"device not found",
	"libusb",
	"usb error",
	"usb_open() failed",
}

// InvalidLine is emitted when a candidate data line fails validation.
type InvalidLine struct {
	Raw    string
	Reason string
}

// NonDataLine is banner/error text routed to the error tracker instead of
// the analyzer.
type NonDataLine struct {
	Raw       string
	Timestamp time.Time
}

// StreamParser turns a byte stream from the SDR child process into
// validated SpectrumFrames, following the bufio.Scanner line-feeding idiom
// of the teacher's decoder log parser.
type StreamParser struct {
	cfg ParserConfig

	mu             sync.Mutex
	buf            bytes.Buffer
	overflowCount  int
	invalidCount   int
	nowFunc        func() time.Time
}

// NewStreamParser builds a parser using the given config.
func NewStreamParser(cfg ParserConfig) *StreamParser {
	return &StreamParser{
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// Feed pushes bytes into the parser's internal buffer and returns every
// complete line's parse result (frame, invalid line, or non-data line) in
// arrival order. Partial trailing data without a newline is retained for
// the next call.
func (p *StreamParser) Feed(data []byte) ([]SpectrumFrame, []InvalidLine, []NonDataLine) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)
	p.enforceBufferLimit()

	var frames []SpectrumFrame
	var invalids []InvalidLine
	var nonData []NonDataLine

	// Only newline-terminated lines are scanned. The token limit covers the
	// whole scanned region so an over-long line reaches the length check
	// below instead of stopping the scan.
	pending := p.buf.Bytes()
	complete := pending[:bytes.LastIndexByte(pending, '\n')+1]
	scanner := bufio.NewScanner(bytes.NewReader(complete))
	scanner.Buffer(make([]byte, 0, 64*1024), len(complete)+1)

	for scanner.Scan() {
		line := scanner.Text()

		if len(line) > p.cfg.MaxLineLength {
			invalids = append(invalids, InvalidLine{Raw: line, Reason: "Line too long"})
			p.invalidCount++
			continue
		}
		if isNonDataLine(line) {
			nonData = append(nonData, NonDataLine{Raw: line, Timestamp: p.nowFunc()})
			continue
		}

		frame, err := p.parseLine(line)
		if err != nil {
			invalids = append(invalids, InvalidLine{Raw: line, Reason: err.Error()})
			p.invalidCount++
			continue
		}
		frames = append(frames, frame)
	}

	// Retain only the unconsumed tail (the partial line after the last
	// newline, if the buffer did not end on one).
	p.buf = *bytes.NewBuffer(append([]byte(nil), pending[len(complete):]...))

	return frames, invalids, nonData
}

func (p *StreamParser) enforceBufferLimit() {
	if p.buf.Len() <= p.cfg.MaxBufferSize {
		return
	}
	p.overflowCount++
	keep := p.cfg.MaxBufferSize / 2
	if keep > p.buf.Len() {
		keep = p.buf.Len()
	}
	tail := p.buf.Bytes()[p.buf.Len()-keep:]
	p.buf = *bytes.NewBuffer(append([]byte(nil), tail...))
	if p.overflowCount >= p.cfg.OverflowThreshold {
		log.Printf("stream parser: buffer overflow count reached %d (threshold %d)", p.overflowCount, p.cfg.OverflowThreshold)
	}
}

// OverflowCount returns the number of buffer-overflow trims observed so far.
func (p *StreamParser) OverflowCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overflowCount
}

func isNonDataLine(line string) bool {
	lower := strings.ToLower(line)
	for _, prefix := range nonDataPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// parseLine parses one CSV row: date, time, startFreq, stopFreq, binSize, p0, p1, ...
func (p *StreamParser) parseLine(line string) (SpectrumFrame, error) {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) < 6 {
		return SpectrumFrame{}, fmt.Errorf("expected at least 6 CSV fields, got %d", len(fields))
	}

	ts, err := parseFrameTimestamp(fields[0], fields[1])
	if err != nil {
		return SpectrumFrame{}, fmt.Errorf("bad timestamp: %w", err)
	}

	startFreq, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return SpectrumFrame{}, fmt.Errorf("bad startFreq: %w", err)
	}
	stopFreq, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return SpectrumFrame{}, fmt.Errorf("bad stopFreq: %w", err)
	}
	if startFreq >= stopFreq {
		return SpectrumFrame{}, fmt.Errorf("startFreq %d must be < stopFreq %d", startFreq, stopFreq)
	}

	binSize, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return SpectrumFrame{}, fmt.Errorf("bad binSize: %w", err)
	}

	powerFields := fields[5:]
	powers := make([]float64, 0, len(powerFields))
	for _, pf := range powerFields {
		v, err := strconv.ParseFloat(pf, 64)
		if err != nil {
			continue
		}
		powers = append(powers, v)
	}
	if len(powers) == 0 {
		return SpectrumFrame{}, fmt.Errorf("no parseable power samples")
	}

	minP, maxP, sum := powers[0], powers[0], 0.0
	allEqual := true
	for _, v := range powers {
		if v < -150 || v > 50 {
			return SpectrumFrame{}, fmt.Errorf("power %.2f out of range [-150,50]", v)
		}
		if v < minP {
			minP = v
		}
		if v > maxP {
			maxP = v
		}
		if v != powers[0] {
			allEqual = false
		}
		sum += v
	}
	if allEqual && len(powers) > 10 {
		return SpectrumFrame{}, fmt.Errorf("stuck device: all %d powers identical", len(powers))
	}

	now := p.nowFunc()
	if diff := now.Sub(ts); diff > 60*time.Second || diff < -60*time.Second {
		return SpectrumFrame{}, fmt.Errorf("timestamp %s too far from now", ts)
	}

	return SpectrumFrame{
		Timestamp:   ts,
		CenterFreq:  (startFreq + stopFreq) / 2,
		StartFreq:   startFreq,
		StopFreq:    stopFreq,
		BinSize:     binSize,
		Powers:      powers,
		MinPower:    minP,
		MaxPower:    maxP,
		AvgPower:    sum / float64(len(powers)),
		SampleCount: len(powers),
	}, nil
}

func parseFrameTimestamp(date, clock string) (time.Time, error) {
	return time.Parse("2006-01-02 15:04:05.000", date+" "+clock)
}
