package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// startProbeJob schedules the periodic reachability probe. Overlapping
// runs are skipped rather than queued.
func (m *Module) startProbeJob() error {
	if m.prober == nil {
		m.logger.Warn("probe enabled but no prober available, skipping")
		return nil
	}

	var running sync.Mutex
	m.cron = cron.New()
	_, err := m.cron.AddFunc(m.config.Probe.Schedule, func() {
		if !running.TryLock() {
			m.logger.Debug("probe still running, skipping this tick")
			return
		}
		defer running.Unlock()

		results := m.prober.ProbeAll(context.Background())
		for _, res := range results {
			if !res.OK {
				m.logger.Warn("probe failed", "path", res.WebhookPath, "error", res.Error)
			}
		}
		m.logger.Debug("probe completed", "accounts", len(results))
	})
	if err != nil {
		return fmt.Errorf("gateway: probe schedule %q: %w", m.config.Probe.Schedule, err)
	}

	m.cron.Start()
	m.logger.Info("probe scheduled", "schedule", m.config.Probe.Schedule)
	return nil
}
