package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPServer exposes the bit-exact REST control surface over C7/C5/C4/C8,
// following the teacher's plain http.HandleFunc-per-route registration style.
type HTTPServer struct {
	controller *SweepController
	cycler     *FrequencyCycler
	window     *TimeWindowFilter
	recovery   *RecoverySupervisor
}

// NewHTTPServer builds a server bound to the given collaborators.
func NewHTTPServer(controller *SweepController, cycler *FrequencyCycler, window *TimeWindowFilter, recovery *RecoverySupervisor) *HTTPServer {
	return &HTTPServer{controller: controller, cycler: cycler, window: window, recovery: recovery}
}

// RegisterRoutes attaches every REST handler to mux.
func (h *HTTPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/start-sweep", h.handleStartSweep)
	mux.HandleFunc("/stop-sweep", h.handleStopSweep)
	mux.HandleFunc("/emergency-stop", h.handleEmergencyStop)
	mux.HandleFunc("/force-cleanup", h.handleForceCleanup)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/cycle-status", h.handleCycleStatus)
	mux.HandleFunc("/export", h.handleExport)
}

type freqRangeRequest struct {
	Start uint64 `json:"start"`
	Stop  uint64 `json:"stop"`
	Step  uint64 `json:"step"`
}

type startSweepRequest struct {
	Freqs     []freqRangeRequest `json:"freqs"`
	CycleTime int                `json:"cycleTime"`
}

// handleStartSweep implements POST /start-sweep, body
// {freqs:[{start,stop,step}], cycleTime}.
func (h *HTTPServer) handleStartSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startSweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}

	freqs := expandFrequencyRanges(req.Freqs)
	if len(freqs) == 0 {
		http.Error(w, "freqs must list at least one target", http.StatusBadRequest)
		return
	}

	cycleTime := time.Duration(req.CycleTime) * time.Millisecond
	if cycleTime <= 0 {
		cycleTime = 8000 * time.Millisecond
	}

	if err := h.controller.StartSweep(freqs, cycleTime); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// expandFrequencyRanges flattens {start,stop,step} ranges into a flat
// frequency list; a zero step or start==stop yields the single start value.
func expandFrequencyRanges(ranges []freqRangeRequest) []uint64 {
	var freqs []uint64
	for _, rg := range ranges {
		if rg.Step == 0 || rg.Start == rg.Stop {
			freqs = append(freqs, rg.Start)
			continue
		}
		for f := rg.Start; f <= rg.Stop; f += rg.Step {
			freqs = append(freqs, f)
		}
	}
	return freqs
}

// parseFrequencyList parses a comma-separated list of Hz values, shared by
// the MCP start_sweep tool and any future plain-list REST input.
func parseFrequencyList(raw string) ([]uint64, error) {
	parts := strings.Split(raw, ",")
	freqs := make([]uint64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid frequency %q: %w", p, err)
		}
		freqs = append(freqs, v)
	}
	if len(freqs) == 0 {
		return nil, fmt.Errorf("frequencies_hz must list at least one value")
	}
	return freqs, nil
}

// handleStopSweep implements POST /stop-sweep.
func (h *HTTPServer) handleStopSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.controller.StopSweep(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleEmergencyStop implements POST /emergency-stop, always 200.
func (h *HTTPServer) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.controller.EmergencyStop()
	w.WriteHeader(http.StatusOK)
}

// handleForceCleanup implements POST /force-cleanup.
func (h *HTTPServer) handleForceCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.controller.ForceCleanup()
	w.WriteHeader(http.StatusOK)
}

// handleStatus implements GET /status.
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.controller.Status()
	status.BreakerStates = h.recovery.BreakerStates()
	writeJSON(w, status)
}

type cycleStatusResponse struct {
	CurrentFrequencyHz uint64 `json:"current_frequency_hz,omitempty"`
	InTransition       bool   `json:"in_transition"`
}

// handleCycleStatus implements GET /cycle-status.
func (h *HTTPServer) handleCycleStatus(w http.ResponseWriter, r *http.Request) {
	freq, ok := h.cycler.CurrentFrequency()
	resp := cycleStatusResponse{InTransition: h.cycler.InTransition()}
	if ok {
		resp.CurrentFrequencyHz = freq
	}
	writeJSON(w, resp)
}

// handleExport implements GET /export?format=csv|json.
func (h *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	snap := h.window.Snapshot()

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(exportCSV(snap)))
		return
	}
	writeJSON(w, snap)
}

// exportCSV renders a window snapshot as CSV, shared by the MCP get_export
// tool and the REST /export?format=csv endpoint.
func exportCSV(snap WindowSnapshot) string {
	var sb strings.Builder
	cw := csv.NewWriter(&sb)
	cw.Write([]string{"state", "frequency_hz", "classification", "confidence", "power", "first_seen", "last_seen"})

	writeRow := func(state string, s TimedSignal) {
		cw.Write([]string{
			state,
			strconv.FormatUint(s.Detection.Frequency, 10),
			s.Detection.Classification,
			strconv.FormatFloat(s.Detection.Confidence, 'f', 3, 64),
			strconv.FormatFloat(s.Detection.Power, 'f', 2, 64),
			s.FirstSeen.Format(time.RFC3339),
			s.LastSeen.Format(time.RFC3339),
		})
	}
	for _, s := range snap.Active {
		writeRow("active", s)
	}
	for _, s := range snap.Fading {
		writeRow("fading", s)
	}

	cw.Flush()
	return sb.String()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encoding response: %v", err), http.StatusInternalServerError)
	}
}
