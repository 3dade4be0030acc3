package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// healthResponse is the minimal liveness payload.
type healthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// systemHealthResponse reports host and store health.
type systemHealthResponse struct {
	Status        string            `json:"status"`
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryPercent float64           `json:"memory_percent"`
	MemoryUsedMB  uint64            `json:"memory_used_mb"`
	Databases     map[string]string `json:"databases"`
	CacheEntries  int64             `json:"cache_entries"`
	Uptime        string            `json:"uptime"`
}

var startTime = time.Now()

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	response := systemHealthResponse{
		Status:    "ok",
		Databases: make(map[string]string, len(s.databases)),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}

	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		response.CPUPercent = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		response.MemoryPercent = memStat.UsedPercent
		response.MemoryUsedMB = memStat.Used / 1024 / 1024
	}

	for name, db := range s.databases {
		if err := db.HealthCheck(r.Context()); err != nil {
			response.Databases[name] = "unhealthy: " + err.Error()
			response.Status = "degraded"
		} else {
			response.Databases[name] = "ok"
		}
	}

	if s.cache != nil {
		response.CacheEntries = s.cache.Stats().Entries
	}

	status := http.StatusOK
	if response.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, response)
}

func (s *Server) handleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{}, len(s.databases))
	for name, db := range s.databases {
		dbStats, err := db.GetStats()
		if err != nil {
			stats[name] = map[string]string{"error": err.Error()}
			continue
		}
		stats[name] = dbStats
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBackupNow(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "backups not configured"})
		return
	}

	if err := s.backups.BackupNow(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "backups not configured"})
		return
	}

	backups, err := s.backups.ListBackups(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"backups": backups})
}
