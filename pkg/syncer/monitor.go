package syncer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const probeTimeout = 3 * time.Second

// Monitor probes the backend on an interval and feeds the resulting
// connectivity edges into the engine. Hosts that receive native
// connectivity signals call HandleConnectivityChange themselves and do
// not need a monitor.
type Monitor struct {
	engine   *Engine
	ping     func(ctx context.Context) error
	interval time.Duration
	online   bool
}

// NewMonitor creates a monitor that assumes connectivity until the first
// probe says otherwise.
func NewMonitor(engine *Engine, ping func(ctx context.Context) error, interval time.Duration) *Monitor {
	return &Monitor{
		engine:   engine,
		ping:     ping,
		interval: interval,
		online:   true,
	}
}

// Run probes until the context is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logrus.Infof("connectivity monitor started, interval %s", m.interval)
	for {
		select {
		case <-ctx.Done():
			logrus.Info("connectivity monitor stopped")
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := m.ping(probeCtx)
	cancel()

	online := err == nil
	if online == m.online {
		return
	}
	m.online = online

	if online {
		logrus.Info("backend probe succeeded, reporting connectivity restored")
	} else {
		logrus.Warnf("backend probe failed, reporting connectivity lost: %v", err)
	}
	m.engine.HandleConnectivityChange(online)
}
