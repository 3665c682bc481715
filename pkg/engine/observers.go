package engine

import (
	"context"
	"sync"
	"time"

	"github.com/flexhook/flexhook/pkg/configurator"
	"github.com/flexhook/flexhook/pkg/recipe"
	"github.com/flexhook/flexhook/pkg/telemetry"
)

// MetricsObserver records the outcome and duration of every configurator
// call in m.
func MetricsObserver(m *telemetry.Metrics) configurator.Observer {
	o := &metricsObserver{metrics: m, started: make(map[*recipe.Recipe]time.Time)}
	return configurator.ObserverFunc(o.observe)
}

type metricsObserver struct {
	metrics *telemetry.Metrics

	mu      sync.Mutex
	started map[*recipe.Recipe]time.Time
}

func (o *metricsObserver) observe(_ context.Context, point configurator.Point, r *recipe.Recipe, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch point {
	case configurator.BeforeInstall, configurator.BeforeUnconfigure:
		o.started[r] = time.Now()
	case configurator.AfterInstall, configurator.AfterUnconfigure:
		var elapsed time.Duration
		if start, ok := o.started[r]; ok {
			elapsed = time.Since(start)
			delete(o.started, r)
		}
		status := telemetry.StatusSuccess
		if err != nil {
			status = telemetry.StatusFailure
		}
		o.metrics.RecordApply(string(r.Job()), status, elapsed)
	}
}
