package syncer

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/robfig/cron/v3"
)

// Heartbeat periodically logs that the service is alive.
type Heartbeat struct {
	cron    *cron.Cron
	logger  *slog.Logger
	clock   Clock
	started time.Time
}

// StartHeartbeat logs memory usage and uptime every interval until Stop is called.
func StartHeartbeat(logger *slog.Logger, interval time.Duration, clock Clock) (*Heartbeat, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("heartbeat interval %s is below one second", interval)
	}
	if clock == nil {
		clock = systemClock{}
	}
	h := &Heartbeat{
		cron:    cron.New(),
		logger:  logger,
		clock:   clock,
		started: clock.Now(),
	}
	if _, err := h.cron.AddFunc("@every "+interval.String(), h.beat); err != nil {
		return nil, fmt.Errorf("failed to schedule heartbeat: %w", err)
	}
	h.cron.Start()
	return h, nil
}

func (h *Heartbeat) beat() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	h.logger.Info("Heartbeat.",
		"uptime", h.clock.Now().Sub(h.started).Round(time.Second),
		"alloc_mb", m.Alloc/1024/1024,
		"sys_mb", m.Sys/1024/1024,
		"num_gc", m.NumGC,
		"goroutines", runtime.NumGoroutine())
}

// Stop stops the schedule and waits for a running beat to finish.
func (h *Heartbeat) Stop() {
	<-h.cron.Stop().Done()
}
