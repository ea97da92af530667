package main

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// StatusHandler serves a JSON snapshot of bridge and host health at /status.
type StatusHandler struct {
	sessions *SessionManager
	rf       *RFExplorerController
}

func NewStatusHandler(sessions *SessionManager, rf *RFExplorerController) *StatusHandler {
	return &StatusHandler{sessions: sessions, rf: rf}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var cpuPercent float64
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	var memPercent float64
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	status := map[string]interface{}{
		"uptime_seconds":      int64(time.Since(StartTime).Seconds()),
		"connected_clients":   h.sessions.Count(),
		"config":              h.rf.Config(),
		"cpu_percent":         cpuPercent,
		"memory_used_percent": memPercent,
		"heap_bytes":          ms.HeapAlloc,
		"goroutines":          runtime.NumGoroutine(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Printf("ERROR: Failed to write status response: %v", err)
	}
}
