package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/shirou/gopsutil/process"
)

// StatsProvider reports the live room and connection counts.
type StatsProvider interface {
	Stats() (rooms, connections int)
}

type HealthResponse struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	Rooms       int      `json:"rooms"`
	Connections int      `json:"connections"`
	RssBytes    *uint64  `json:"rssBytes,omitempty"`
	CpuPercent  *float64 `json:"cpuPercent,omitempty"`
}

// HealthHandler answers GET /api/health.
type HealthHandler struct {
	log   *slog.Logger
	stats StatsProvider
	proc  *process.Process
}

func NewHealthHandler(log *slog.Logger, stats StatsProvider) *HealthHandler {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("Process stats unavailable", "error", err)
		p = nil
	}
	return &HealthHandler{log: log, stats: stats, proc: p}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	rooms, connections := h.stats.Stats()
	resp := HealthResponse{
		Status:      "OK",
		Message:     "Server is running",
		Rooms:       rooms,
		Connections: connections,
	}
	h.withProcessStats(&resp)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Debug("Health response not written", "error", err)
	}
}

func (h *HealthHandler) withProcessStats(resp *HealthResponse) {
	if h.proc == nil {
		return
	}
	if mem, err := h.proc.MemoryInfo(); err == nil {
		resp.RssBytes = &mem.RSS
	} else {
		h.log.Debug("Memory stats unavailable", "error", err)
	}
	if cpu, err := h.proc.CPUPercent(); err == nil {
		resp.CpuPercent = &cpu
	} else {
		h.log.Debug("CPU stats unavailable", "error", err)
	}
}
