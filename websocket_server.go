package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// InboundCommand is a parsed client command frame from spec.md §6.
type InboundCommand struct {
	Command string `json:"command"`
	MAC     string `json:"mac"`
	Service string `json:"service"`
}

// WebSocketServer upgrades HTTP connections to the push channel and routes
// inbound commands, following the teacher's per-connection-goroutine shape.
type WebSocketServer struct {
	push       *PushDeliveryLayer
	controller *SweepController
}

// NewWebSocketServer builds a server bound to the push layer and controller
// it exposes.
func NewWebSocketServer(push *PushDeliveryLayer, controller *SweepController) *WebSocketServer {
	return &WebSocketServer{push: push, controller: controller}
}

// ServeHTTP upgrades the connection and spawns the read/write pump.
func (w *WebSocketServer) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		if DebugMode {
			log.Printf("websocket upgrade failed: %v", err)
		}
		return
	}
	defer conn.Close()

	writeMu := make(chan struct{}, 1)
	writeMu <- struct{}{}

	sub := w.push.Subscribe(func(ev PushEvent) error {
		<-writeMu
		defer func() { writeMu <- struct{}{} }()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(ev)
	})
	defer w.push.Unsubscribe(sub.ID)

	w.push.PublishStatus(w.controller.Status())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd InboundCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		w.handleCommand(cmd)
	}
}

func (w *WebSocketServer) handleCommand(cmd InboundCommand) {
	switch cmd.Command {
	case "get_status":
		w.push.PublishStatus(w.controller.Status())
	case "ping":
		w.push.publish("pong", nil)
	case "start_service":
		if cmd.Service == "sweep" {
			w.controller.StartSweep(w.controller.cfg.Frequencies, time.Duration(w.controller.cfg.CycleTimeMs)*time.Millisecond)
		}
	case "stop_service":
		if cmd.Service == "sweep" {
			w.controller.StopSweep()
		}
	case "restart_service":
		if cmd.Service == "sweep" {
			w.controller.StopSweep()
			w.controller.StartSweep(w.controller.cfg.Frequencies, time.Duration(w.controller.cfg.CycleTimeMs)*time.Millisecond)
		}
	}
}
