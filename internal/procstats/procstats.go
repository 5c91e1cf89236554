// Package procstats samples this process's own resource usage on a cron
// schedule and logs it as a heartbeat, using a robfig/cron scheduler with
// 6-field cron expressions.
package procstats

import (
	"context"
	"log/slog"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/process"
)

// Sampler periodically logs this process's CPU and memory footprint.
type Sampler struct {
	logger *slog.Logger
	cron   *cron.Cron
}

// New creates a Sampler that logs via logger. Call Start to begin sampling
// on the given 6-field cron expression (sec min hour dom month dow).
func New(logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Sampler{
		logger: logger,
		cron:   cron.New(cron.WithParser(parser)),
	}
}

// Start schedules periodic sampling at cronExpr and begins running it.
func (s *Sampler) Start(cronExpr string) error {
	if _, err := s.cron.AddFunc(cronExpr, s.sampleOnce); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop cancels future samples and waits for any in-flight run to finish.
func (s *Sampler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

func (s *Sampler) sampleOnce() {
	pid := int32(os.Getpid())
	proc, err := process.NewProcess(pid)
	if err != nil {
		s.logger.Warn("procstats: failed to open self process handle", slog.Any("error", err))
		return
	}

	cpuPercent, _ := proc.CPUPercent()
	memInfo, err := proc.MemoryInfo()
	rssMB := float64(0)
	if err == nil && memInfo != nil {
		rssMB = float64(memInfo.RSS) / 1024 / 1024
	}
	numGoroutine, _ := proc.NumThreads()

	s.logger.Info("procstats heartbeat",
		slog.Float64("cpu_percent", cpuPercent),
		slog.Float64("rss_mb", rssMB),
		slog.Int("os_threads", int(numGoroutine)),
	)
}
