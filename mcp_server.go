package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the sweep controller's operations as MCP tools for
// agentic/LLM control, additive to the bit-exact REST surface.
type MCPServer struct {
	controller *SweepController
	window     *TimeWindowFilter
	cycler     *FrequencyCycler
	recovery   *RecoverySupervisor
	cfg        MCPConfig

	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// NewMCPServer builds and registers the tool surface.
func NewMCPServer(cfg MCPConfig, controller *SweepController, window *TimeWindowFilter, cycler *FrequencyCycler, recovery *RecoverySupervisor) *MCPServer {
	m := &MCPServer{
		controller: controller,
		window:     window,
		cycler:     cycler,
		recovery:   recovery,
		cfg:        cfg,
	}

	m.mcpServer = server.NewMCPServer("hackrf-sentry", "1.0.0", server.WithToolCapabilities(true))
	m.registerTools()
	m.httpServer = server.NewStreamableHTTPServer(m.mcpServer)

	return m
}

func (m *MCPServer) registerTools() {
	m.mcpServer.AddTool(
		mcp.NewTool("get_status",
			mcp.WithDescription("Get the current sweep controller status: state, frequency, health score, and circuit breakers"),
		),
		m.handleGetStatus,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("start_sweep",
			mcp.WithDescription("Start a HackRF sweep across a cyclic multi-frequency plan"),
			mcp.WithString("frequencies_hz", mcp.Description("Comma-separated list of target frequencies in Hz"), mcp.Required()),
			mcp.WithString("cycle_time_ms", mcp.Description("Dwell time per frequency in milliseconds"), mcp.DefaultString("8000")),
		),
		m.handleStartSweep,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("stop_sweep",
			mcp.WithDescription("Gracefully stop the active sweep"),
		),
		m.handleStopSweep,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("get_cycle_status",
			mcp.WithDescription("Get the frequency cycler's current progress (current target, transition state)"),
		),
		m.handleGetCycleStatus,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("get_export",
			mcp.WithDescription("Export the current live signal view"),
			mcp.WithString("format", mcp.Description("Export format: json or csv"), mcp.DefaultString("json")),
		),
		m.handleGetExport,
	)
}

func (m *MCPServer) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := m.controller.Status()
	breakers := m.recovery.BreakerStates()

	result := map[string]interface{}{
		"controller_state": status.ControllerState.String(),
		"health_score":      status.HealthScore,
		"last_error_kind":   status.LastErrorKind,
		"breaker_states":    breakers,
	}
	if status.HasCurrentFreq {
		result["current_frequency_hz"] = status.CurrentFreq
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshaling status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (m *MCPServer) handleStartSweep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	freqStr, err := request.RequireString("frequencies_hz")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	freqs, err := parseFrequencyList(freqStr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cycleMs := 8000.0
	if raw := request.GetString("cycle_time_ms", "8000"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			cycleMs = parsed
		}
	}

	if err := m.controller.StartSweep(freqs, time.Duration(cycleMs)*time.Millisecond); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("sweep started"), nil
}

func (m *MCPServer) handleStopSweep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := m.controller.StopSweep(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("sweep stopped"), nil
}

func (m *MCPServer) handleGetCycleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	freq, ok := m.cycler.CurrentFrequency()
	result := map[string]interface{}{
		"in_transition": m.cycler.InTransition(),
	}
	if ok {
		result["current_frequency_hz"] = freq
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshaling cycle status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (m *MCPServer) handleGetExport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := request.GetString("format", "json")
	snap := m.window.Snapshot()

	if format == "csv" {
		return mcp.NewToolResultText(exportCSV(snap)), nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshaling export: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
