package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-version"
)

// SweepController owns the SDR child process and drives the pipeline
// through its state machine, following the process-lifecycle idiom of the
// teacher's DecoderSpawner.SpawnDecoder (cmd.Start/cmd.Wait, working
// directory, redirected output, duration tracking).
type SweepController struct {
	cfg SweepConfig

	mu           sync.Mutex
	state        ControllerState
	currentFreq  uint64
	hasFreq      bool
	generationID uint64
	lastFrameAt  time.Time
	lastErr      TrackedError

	cmd      *exec.Cmd
	cancel   context.CancelFunc
	logFile  *os.File
	startedAt time.Time

	parser   *StreamParser
	analyzer *SweepAnalyzer
	processor *SignalProcessor
	window   *TimeWindowFilter
	cycler   *FrequencyCycler
	tracker  *ErrorTracker
	push     *PushDeliveryLayer
	recovery *RecoverySupervisor

	nowFunc func() time.Time
}

// NewSweepController wires C1-C6 collaborators that C7 orchestrates.
func NewSweepController(
	cfg SweepConfig,
	parser *StreamParser,
	analyzer *SweepAnalyzer,
	processor *SignalProcessor,
	window *TimeWindowFilter,
	cycler *FrequencyCycler,
	tracker *ErrorTracker,
	push *PushDeliveryLayer,
) *SweepController {
	return &SweepController{
		cfg:       cfg,
		state:     StateIdle,
		parser:    parser,
		analyzer:  analyzer,
		processor: processor,
		window:    window,
		cycler:    cycler,
		tracker:   tracker,
		push:      push,
		nowFunc:   time.Now,
	}
}

// AttachRecovery wires C8 into the controller after both are constructed
// (RecoverySupervisor itself takes the controller, so this closes the loop
// post-construction rather than introducing a circular constructor).
func (c *SweepController) AttachRecovery(recovery *RecoverySupervisor) {
	c.mu.Lock()
	c.recovery = recovery
	c.mu.Unlock()
}

// CheckSweepAvailability verifies the configured sweep binary exists,
// is executable, and (if MinSweepVersion is set) meets the minimum version
// by parsing its --version output, mirroring the teacher's
// CheckDecoderAvailability preflight.
func (c *SweepController) CheckSweepAvailability() error {
	info, err := os.Stat(c.cfg.SweepBinary)
	if err != nil {
		if resolved, lookErr := exec.LookPath(c.cfg.SweepBinary); lookErr == nil {
			info, err = os.Stat(resolved)
		}
		if err != nil {
			return fmt.Errorf("sweep binary %s not found: %w", c.cfg.SweepBinary, err)
		}
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("sweep binary %s is not executable", c.cfg.SweepBinary)
	}

	if c.cfg.MinSweepVersion == "" {
		return nil
	}
	out, err := exec.Command(c.cfg.SweepBinary, "--version").Output()
	if err != nil {
		return nil // version check is best-effort; missing --version is not fatal
	}
	return checkMinVersion(string(out), c.cfg.MinSweepVersion)
}

func checkMinVersion(output, minVersion string) error {
	fields := strings.Fields(output)
	var vstr string
	for _, f := range fields {
		if _, err := version.NewVersion(strings.TrimPrefix(f, "v")); err == nil {
			vstr = strings.TrimPrefix(f, "v")
			break
		}
	}
	if vstr == "" {
		return nil
	}
	cur, err := version.NewVersion(vstr)
	if err != nil {
		return nil
	}
	min, err := version.NewVersion(minVersion)
	if err != nil {
		return nil
	}
	if cur.LessThan(min) {
		return fmt.Errorf("sweep binary version %s is older than required %s", cur, min)
	}
	return nil
}

// StartSweep initializes C5 with the given plan, spawns the sweep process
// targeting the first frequency, attaches C1 to its stdout, and starts C5's
// timer.
func (c *SweepController) StartSweep(freqs []uint64, cycleTime time.Duration) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateFailed {
		c.mu.Unlock()
		return fmt.Errorf("cannot start sweep from state %s", c.state)
	}
	c.state = StateStarting
	c.generationID++
	gen := c.generationID
	c.mu.Unlock()

	c.cycler.Initialize(FrequencyPlan{Frequencies: freqs, Tcycle: cycleTime})

	target, ok := c.cycler.CurrentFrequency()
	if !ok {
		c.setState(StateFailed)
		return fmt.Errorf("no valid frequencies after blacklist")
	}

	if err := c.spawn(target, gen); err != nil {
		c.setState(StateFailed)
		return err
	}

	c.cycler.StartAutomaticCycling(c.onCycleComplete, c.onCycleStart)

	c.mu.Lock()
	c.state = StateRunning
	c.currentFreq = target
	c.hasFreq = true
	c.mu.Unlock()

	return nil
}

func (c *SweepController) spawn(target uint64, gen uint64) error {
	ctx, cancel := context.WithCancel(context.Background())

	start := int64(target) - int64(c.cfg.SpanHz)
	stop := int64(target) + int64(c.cfg.SpanHz)
	args := []string{
		"-f", strconv.FormatInt(start, 10) + ":" + strconv.FormatInt(stop, 10),
		"-B",
	}
	if len(c.cfg.SweepArgs) > 0 {
		args = c.cfg.SweepArgs
	}

	cmd := exec.CommandContext(ctx, c.cfg.SweepBinary, args...)
	cmd.Dir = c.cfg.WorkDir

	var logFile *os.File
	if c.cfg.LogPath != "" {
		f, err := os.OpenFile(c.cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			logFile = f
			cmd.Stderr = f
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("attaching stdout pipe: %w", err)
	}

	startedAt := c.nowFunc()
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("starting sweep process: %w", err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.cancel = cancel
	c.logFile = logFile
	c.startedAt = startedAt
	c.lastFrameAt = startedAt
	c.mu.Unlock()

	go c.readLoop(stdout, gen)
	go func() {
		waitErr := cmd.Wait()
		duration := c.nowFunc().Sub(startedAt)
		if DebugMode {
			log.Printf("sweep controller: process for generation %d exited after %s: %v", gen, duration, waitErr)
		}
		if logFile != nil {
			logFile.Close()
		}
	}()

	return nil
}

// readLoop is the device-reader task: single-threaded blocking I/O feeding
// C1, whose output is handed to the analysis pipeline (C2->C3->C4->C9).
func (c *SweepController) readLoop(stdout io.Reader, gen uint64) {
	buf := make([]byte, 64*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			c.ingest(buf[:n], gen)
		}
		if err != nil {
			return
		}
	}
}

func (c *SweepController) ingest(data []byte, gen uint64) {
	frames, invalids, nonData := c.parser.Feed(data)

	for _, nd := range nonData {
		te := c.tracker.Report(nd.Raw, 0, false)
		c.handleTrackedError(te)
	}
	for range invalids {
		// Parser failures are reported as counters only, never fatal.
	}

	for _, f := range frames {
		f.GenerationID = gen
		c.mu.Lock()
		c.lastFrameAt = c.nowFunc()
		c.mu.Unlock()

		out := c.analyzer.Analyze(f)
		for _, p := range out.Peaks {
			if det, ok := c.processor.Process(p, out.NoiseFloor); ok {
				c.window.AddSignal(det)
				c.push.PublishDetection(det)
			}
		}
		c.push.PublishFrame(f, out)
	}
}

func (c *SweepController) handleTrackedError(te TrackedError) {
	if te.RequiresRestart && te.Recoverable {
		c.setState(StateRecovering)
	}
	if te.HasFrequency && c.tracker.ShouldBlacklist(te.Frequency) {
		c.cycler.BlacklistFrequency(te.Frequency)
	}
	c.mu.Lock()
	c.lastErr = te
	recovery := c.recovery
	c.mu.Unlock()
	c.push.PublishError(te)
	if recovery != nil {
		recovery.HandleError("sweep", te)
	}
}

func (c *SweepController) onCycleStart(freq uint64) {
	c.mu.Lock()
	c.currentFreq = freq
	c.hasFreq = true
	c.state = StateRunning
	c.mu.Unlock()
	c.push.PublishStatus(c.Status())
}

func (c *SweepController) onCycleComplete(freq uint64) {
	c.mu.Lock()
	c.currentFreq = freq
	c.hasFreq = true
	c.state = StateRunning
	c.mu.Unlock()
	c.push.PublishStatus(c.Status())
}

// CheckStreamLiveness synthesizes a device_stuck error if no valid frame
// has arrived for staleTimeout while running. Intended to be called from a
// periodic watchdog tick.
func (c *SweepController) CheckStreamLiveness() {
	c.mu.Lock()
	state := c.state
	lastFrame := c.lastFrameAt
	c.mu.Unlock()

	if state != StateRunning {
		return
	}
	if c.nowFunc().Sub(lastFrame) < time.Duration(c.cfg.StaleTimeoutSec)*time.Second {
		return
	}

	c.tracker.SetDeviceStatus(DeviceStuck)
	te := c.tracker.Report("device stuck: stream stale", 0, false)
	te.Kind = KindStreamStale
	c.handleTrackedError(te)
}

// StopSweep requests graceful termination, waits up to stopGraceSec, then
// hard-kills. Idempotent: calling it twice yields the same terminal state.
func (c *SweepController) StopSweep() error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	cmd := c.cmd
	c.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Signal(os.Interrupt)
		done := make(chan struct{})
		go func() { cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(time.Duration(c.cfg.StopGraceSec) * time.Second):
			cmd.Process.Kill()
		}
	}

	c.cycler.StopCycling()

	c.mu.Lock()
	c.state = StateIdle
	c.cmd = nil
	c.mu.Unlock()

	return nil
}

// EmergencyStop skips the graceful wait, terminates immediately, and
// resets all state to idle.
func (c *SweepController) EmergencyStop() error {
	c.mu.Lock()
	cmd := c.cmd
	cancel := c.cancel
	c.state = StateIdle
	c.cmd = nil
	c.currentFreq = 0
	c.hasFreq = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
	c.cycler.StopCycling()
	return nil
}

// ForceCleanup purges pending state across C1/C6/C7 and resets to idle.
func (c *SweepController) ForceCleanup() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	if c.parser != nil {
		c.parser.mu.Lock()
		c.parser.buf.Reset()
		c.parser.mu.Unlock()
	}
	c.tracker.ResetConsecutive()
}

// Status returns the user-visible status snapshot.
func (c *SweepController) Status() HackRFStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return HackRFStatus{
		ControllerState: c.state,
		CurrentFreq:     c.currentFreq,
		HasCurrentFreq:  c.hasFreq,
		LastErrorMsg:    c.lastErr.Message,
		LastErrorKind:   c.lastErr.Kind,
		HealthScore:     c.tracker.HealthScore(),
		GenerationID:    c.generationID,
	}
}

func (c *SweepController) setState(s ControllerState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
