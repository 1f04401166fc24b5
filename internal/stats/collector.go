// Package stats samples process resource usage while a long running step,
// such as loading a pbf extract into memory, is in progress.
package stats

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/process"
)

// Summary holds the peak values observed between Start and Stop.
type Summary struct {
	Elapsed        time.Duration
	Samples        int
	PeakHeapAlloc  uint64
	PeakSys        uint64
	PeakRSS        uint64
	PeakCPUPercent float64
	AvgCPUPercent  float64
	PeakGoroutines int
	GCCycles       uint32
}

// LogValue renders byte counts the way the rest of the logs do.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("elapsed", s.Elapsed.Round(time.Millisecond).String()),
		slog.Int("samples", s.Samples),
		slog.String("peak_heap", humanize.IBytes(s.PeakHeapAlloc)),
		slog.String("peak_sys", humanize.IBytes(s.PeakSys)),
		slog.String("peak_rss", humanize.IBytes(s.PeakRSS)),
		slog.String("peak_cpu", fmt.Sprintf("%.1f%%", s.PeakCPUPercent)),
		slog.String("avg_cpu", fmt.Sprintf("%.1f%%", s.AvgCPUPercent)),
		slog.Int("peak_goroutines", s.PeakGoroutines),
		slog.Uint64("gc_cycles", uint64(s.GCCycles)),
	)
}

type Collector struct {
	interval time.Duration
	proc     *process.Process

	mu       sync.Mutex
	start    time.Time
	summary  Summary
	totalCPU float64

	stop chan struct{}
	done chan struct{}
}

func NewCollector(interval time.Duration) (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to get process info: %w", err)
	}
	return &Collector{
		interval: interval,
		proc:     proc,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins sampling in the background. It must be paired with Stop.
func (c *Collector) Start() {
	c.start = time.Now()
	go c.collect()
}

func (c *Collector) collect() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample()
	for {
		select {
		case <-c.stop:
			c.sample()
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	var rss uint64
	if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
		rss = info.RSS
	}
	cpu, _ := c.proc.CPUPercent()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.summary
	s.Samples++
	s.PeakHeapAlloc = max(s.PeakHeapAlloc, mem.HeapAlloc)
	s.PeakSys = max(s.PeakSys, mem.Sys)
	s.PeakRSS = max(s.PeakRSS, rss)
	s.PeakCPUPercent = max(s.PeakCPUPercent, cpu)
	s.PeakGoroutines = max(s.PeakGoroutines, goroutines)
	s.GCCycles = mem.NumGC
	c.totalCPU += cpu
}

// Stop takes a final sample and returns the summary.
func (c *Collector) Stop() Summary {
	close(c.stop)
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()

	c.summary.Elapsed = time.Since(c.start)
	if c.summary.Samples > 0 {
		c.summary.AvgCPUPercent = c.totalCPU / float64(c.summary.Samples)
	}
	return c.summary
}
