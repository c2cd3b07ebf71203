package admin

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sansdns/sans-forward/internal/server"
	"github.com/sansdns/sans-forward/internal/verdict"
)

type handler struct {
	startTime time.Time
	nodeID    string
	stats     *server.DNSStats
	cache     *verdict.Cache
}

func registerRoutes(r *gin.Engine, h *handler) {
	r.GET("/status", h.status)
	r.GET("/verdicts", h.verdicts)
}

type memoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

type cpuStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

type statusResponse struct {
	NodeID        string                  `json:"node_id"`
	Uptime        string                  `json:"uptime"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	StartTime     time.Time               `json:"start_time"`
	CPU           cpuStats                `json:"cpu"`
	Memory        memoryStats             `json:"memory"`
	DNS           server.DNSStatsSnapshot `json:"dns"`
}

// status godoc
// Returns process health, system resource usage, and the forwarder's
// query/classification counters.
func (h *handler) status(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := memoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuS := cpuStats{NumCPU: runtime.NumCPU()}
	if cpuPercent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuS.UsedPercent = cpuPercent[0]
		cpuS.IdlePercent = 100.0 - cpuPercent[0]
	}

	c.JSON(http.StatusOK, statusResponse{
		NodeID:        h.nodeID,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		CPU:           cpuS,
		Memory:        memStats,
		DNS:           h.stats.Snapshot(),
	})
}

type verdictRow struct {
	Name    string `json:"name"`
	Type    uint16 `json:"type"`
	Blocked bool   `json:"blocked"`
	TTL     uint32 `json:"ttl"`
}

// verdicts godoc
// Dumps the live classification cache (name -> blocked verdict), for
// inspecting why a given domain is taking the trusted or clean path
// without waiting for it to show up in logs.
func (h *handler) verdicts(c *gin.Context) {
	rows := h.cache.Snapshot()
	out := make([]verdictRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, verdictRow{Name: row.Key.Name, Type: row.Key.Type, Blocked: row.Entry.Blocked, TTL: row.Entry.TTL})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "verdicts": out})
}
