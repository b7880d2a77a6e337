package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/coopcam/coopcam/internal/ffmpeg"
	"github.com/coopcam/coopcam/internal/motion"
	"github.com/coopcam/coopcam/internal/recording"
	"github.com/coopcam/coopcam/internal/stream"
)

// ffmpegProbeTimeout bounds the `ffmpeg -version` subprocess per status call.
const ffmpegProbeTimeout = 3 * time.Second

// SystemHandler serves host and process statistics. Host metrics that fail
// to collect are omitted rather than failing the endpoint; a camera server
// on an odd SBC kernel should still answer.
type SystemHandler struct {
	version      string
	startTime    time.Time
	recordingDir string
	ffmpegPath   string
	manager      *stream.Manager
	engine       *motion.Engine
	controller   *recording.Controller
}

// NewSystemHandler creates a system status handler. recordingDir is the
// volume whose disk usage is reported; empty skips the disk section.
func NewSystemHandler(version, recordingDir string) *SystemHandler {
	return &SystemHandler{
		version:      version,
		startTime:    time.Now(),
		recordingDir: recordingDir,
	}
}

// WithFFmpeg sets the ffmpeg binary whose availability and version are
// reported. Empty skips the ffmpeg section.
func (h *SystemHandler) WithFFmpeg(path string) *SystemHandler {
	h.ffmpegPath = path
	return h
}

// WithStreams adds per-source proxy statistics to the status body.
func (h *SystemHandler) WithStreams(m *stream.Manager) *SystemHandler {
	h.manager = m
	return h
}

// WithMotion adds detector and worker-pool statistics to the status body.
func (h *SystemHandler) WithMotion(e *motion.Engine) *SystemHandler {
	h.engine = e
	return h
}

// WithRecording adds recording controller statistics to the status body.
func (h *SystemHandler) WithRecording(c *recording.Controller) *SystemHandler {
	h.controller = c
	return h
}

// SystemStatusInput is the input for the system status endpoint.
type SystemStatusInput struct{}

// SystemStatusOutput is the output for the system status endpoint.
type SystemStatusOutput struct {
	Body SystemStatusResponse
}

// SystemMemory reports host memory usage.
type SystemMemory struct {
	TotalBytes  uint64  `json:"totalBytes"`
	UsedBytes   uint64  `json:"usedBytes"`
	UsedPercent float64 `json:"usedPercent"`
}

// SystemLoad reports the host load averages.
type SystemLoad struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// SystemDisk reports usage of the recording volume.
type SystemDisk struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"totalBytes"`
	FreeBytes   uint64  `json:"freeBytes"`
	UsedPercent float64 `json:"usedPercent"`
}

// SystemProcess reports this process's footprint.
type SystemProcess struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
}

// SystemMotion aggregates per-source detector stats and the shared
// preprocessing pool.
type SystemMotion struct {
	Detectors map[string]motion.DetectorStats `json:"detectors"`
	Pool      motion.PoolStats                `json:"pool"`
}

// SystemFFmpeg reports the recording encoder binary.
type SystemFFmpeg struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
}

// SystemStatusResponse is the system status body.
type SystemStatusResponse struct {
	Version       string         `json:"version"`
	GoVersion     string         `json:"goVersion"`
	UptimeSeconds int64          `json:"uptimeSeconds"`
	Goroutines    int            `json:"goroutines"`
	CPUCores      int            `json:"cpuCores"`
	Memory        *SystemMemory  `json:"memory,omitempty"`
	Load          *SystemLoad    `json:"load,omitempty"`
	Disk          *SystemDisk    `json:"disk,omitempty"`
	Process       *SystemProcess `json:"process,omitempty"`
	FFmpeg        *SystemFFmpeg  `json:"ffmpeg,omitempty"`

	Streams   []stream.ProxyStats        `json:"streams,omitempty"`
	Motion    *SystemMotion              `json:"motion,omitempty"`
	Recording *recording.ControllerStats `json:"recording,omitempty"`
}

// Register registers the system status route with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSystemStatus",
		Method:      http.MethodGet,
		Path:        "/api/system/status",
		Summary:     "Host and process statistics",
		Tags:        []string{"system"},
	}, h.GetStatus)
}

// GetStatus handles GET /api/system/status.
func (h *SystemHandler) GetStatus(ctx context.Context, input *SystemStatusInput) (*SystemStatusOutput, error) {
	resp := SystemStatusResponse{
		Version:       h.version,
		GoVersion:     runtime.Version(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		CPUCores:      runtime.NumCPU(),
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.Memory = &SystemMemory{
			TotalBytes:  vm.Total,
			UsedBytes:   vm.Used,
			UsedPercent: vm.UsedPercent,
		}
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		resp.Load = &SystemLoad{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}
	}

	if h.recordingDir != "" {
		if usage, err := disk.UsageWithContext(ctx, h.recordingDir); err == nil {
			resp.Disk = &SystemDisk{
				Path:        h.recordingDir,
				TotalBytes:  usage.Total,
				FreeBytes:   usage.Free,
				UsedPercent: usage.UsedPercent,
			}
		}
	}

	if h.manager != nil {
		proxies := h.manager.Proxies()
		resp.Streams = make([]stream.ProxyStats, 0, len(proxies))
		for _, p := range proxies {
			resp.Streams = append(resp.Streams, p.Stats())
		}
	}

	if h.engine != nil {
		detectors, pool := h.engine.Stats()
		resp.Motion = &SystemMotion{Detectors: detectors, Pool: pool}
	}

	if h.controller != nil {
		stats := h.controller.Stats()
		resp.Recording = &stats
	}

	if h.ffmpegPath != "" {
		probeCtx, cancel := context.WithTimeout(ctx, ffmpegProbeTimeout)
		info, err := ffmpeg.Probe(probeCtx, h.ffmpegPath)
		cancel()
		if err != nil {
			resp.FFmpeg = &SystemFFmpeg{Available: false, Path: h.ffmpegPath}
		} else {
			resp.FFmpeg = &SystemFFmpeg{Available: true, Path: info.Path, Version: info.Version}
		}
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		p := &SystemProcess{PID: proc.Pid}
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
			p.RSSBytes = mi.RSS
		}
		if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
			p.CPUPercent = pct
		}
		resp.Process = p
	}

	return &SystemStatusOutput{Body: resp}, nil
}
