package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor periodically reports queue depth. It never mutates queue state;
// lease expiry is handled on the take path, not here.
type Monitor struct {
	service  *Service
	interval time.Duration
}

func NewMonitor(service *Service, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		service:  service,
		interval: interval,
	}
}

// Start begins the monitoring loop
func (m *Monitor) Start(ctx context.Context) {
	logger := log.With().Str("component", "queue_monitor").Logger()
	logger.Info().Dur("interval", m.interval).Msg("starting queue monitor")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down queue monitor")
			return
		case <-ticker.C:
			stats, err := m.service.Stats()
			if err != nil {
				logger.Error().Err(err).Msg("failed to read queue stats")
				continue
			}

			event := logger.Info()
			if stats.Buried > 0 {
				// Buried tasks need manual intervention; make them stand out.
				event = logger.Warn()
			}
			event.
				Int64("ready", stats.Ready).
				Int64("taken", stats.Taken).
				Int64("acked", stats.Acked).
				Int64("buried", stats.Buried).
				Msg("queue depth")
		}
	}
}
